package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
)

const expenseColumns = `id, group_id, name, cost, deadline, payee, payers, distribution_type,
	payer_amounts, payments, archived, file, created_at, updated_at`

func scanExpense(row rowScanner) (*models.Expense, error) {
	e := &models.Expense{}
	var payers, payerAmounts, payments, file sql.NullString
	if err := row.Scan(
		&e.ID,
		&e.GroupID,
		&e.Name,
		&e.Cost,
		&e.Deadline,
		&e.Payee,
		&payers,
		&e.DistributionType,
		&payerAmounts,
		&payments,
		&e.Archived,
		&file,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := decodeJSON(payers, &e.Payers); err != nil {
		return nil, fmt.Errorf("failed to decode payers: %w", err)
	}
	if err := decodeJSON(payerAmounts, &e.PayerAmounts); err != nil {
		return nil, fmt.Errorf("failed to decode payer amounts: %w", err)
	}
	e.Payments = []models.Payment{}
	if err := decodeJSON(payments, &e.Payments); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}
	if file.Valid {
		e.File = &models.FileInfo{}
		if err := decodeJSON(file, e.File); err != nil {
			return nil, fmt.Errorf("failed to decode file info: %w", err)
		}
	}
	return e, nil
}

// expenseArgs returns the column values of e in expenseColumns order.
func expenseArgs(e *models.Expense) ([]any, error) {
	payers, err := encodeJSON(e.Payers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payers: %w", err)
	}
	if e.PayerAmounts == nil {
		e.PayerAmounts = []models.PayerAmount{}
	}
	payerAmounts, err := encodeJSON(e.PayerAmounts)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payer amounts: %w", err)
	}
	if e.Payments == nil {
		e.Payments = []models.Payment{}
	}
	payments, err := encodeJSON(e.Payments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payments: %w", err)
	}
	var file any
	if e.File != nil {
		if file, err = encodeJSON(e.File); err != nil {
			return nil, fmt.Errorf("failed to encode file info: %w", err)
		}
	}

	return []any{
		e.ID, e.GroupID, e.Name, e.Cost.StringFixed(2), e.Deadline, e.Payee, payers,
		string(e.DistributionType), payerAmounts, payments, e.Archived, file,
		e.CreatedAt, e.UpdatedAt,
	}, nil
}

func listExpenses(ctx context.Context, q querier, groupID string) ([]*models.Expense, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE group_id = ? ORDER BY created_at, rowid`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate expenses: %w", err)
	}
	return expenses, nil
}

func getExpense(ctx context.Context, q querier, groupID, expenseID string) (*models.Expense, error) {
	e, err := scanExpense(q.QueryRowContext(ctx,
		`SELECT `+expenseColumns+` FROM expenses WHERE group_id = ? AND id = ?`,
		groupID, expenseID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("expense", expenseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return e, nil
}

// InsertExpense adds a new expense to an existing group.
func (s *SQLiteStore) InsertExpense(ctx context.Context, expense *models.Expense) error {
	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	if expense.CreatedAt == 0 {
		expense.CreatedAt = s.now().Unix()
	}
	expense.UpdatedAt = expense.CreatedAt

	args, err := expenseArgs(expense)
	if err != nil {
		return err
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		if err := touchGroup(ctx, tx, expense.GroupID, expense.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (`+expenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...,
		); err != nil {
			return fmt.Errorf("failed to insert expense: %w", err)
		}
		return nil
	})
}

// UpdateExpense applies fn to the stored expense and writes it back atomically.
func (s *SQLiteStore) UpdateExpense(ctx context.Context, groupID, expenseID string, fn func(*models.Expense) error) (*models.Expense, error) {
	var updated *models.Expense
	err := s.write(ctx, func(tx *sql.Tx) error {
		e, err := getExpense(ctx, tx, groupID, expenseID)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		e.ID, e.GroupID = expenseID, groupID
		e.UpdatedAt = s.now().Unix()

		args, err := expenseArgs(e)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE expenses SET name = ?, cost = ?, deadline = ?, payee = ?, payers = ?, distribution_type = ?,
			 payer_amounts = ?, payments = ?, archived = ?, file = ?, updated_at = ?
			 WHERE group_id = ? AND id = ?`,
			append(append([]any{}, args[2:12]...), e.UpdatedAt, groupID, expenseID)...,
		); err != nil {
			return fmt.Errorf("failed to update expense: %w", err)
		}
		if err := touchGroup(ctx, tx, groupID, e.UpdatedAt); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteExpense removes an expense and returns its last stored state.
func (s *SQLiteStore) DeleteExpense(ctx context.Context, groupID, expenseID string) (*models.Expense, error) {
	var removed *models.Expense
	err := s.write(ctx, func(tx *sql.Tx) error {
		e, err := getExpense(ctx, tx, groupID, expenseID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM expenses WHERE group_id = ? AND id = ?", groupID, expenseID); err != nil {
			return fmt.Errorf("failed to delete expense: %w", err)
		}
		if err := touchGroup(ctx, tx, groupID, s.now().Unix()); err != nil {
			return err
		}
		removed = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}
