package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

const changeLogColumns = `c.id, c.action, c.type, c.group_id, c.group_name, c.group_status, c.expense_id,
	c.expense_name, c.performed_by_id, c.performed_by_name, c.details, c.timestamp`

// InsertChangeLog appends an entry together with its visibility set.
func (s *SQLiteStore) InsertChangeLog(ctx context.Context, entry *models.ChangeLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = s.now().UnixMilli()
	}
	if entry.GroupStatus == "" {
		entry.GroupStatus = models.GroupActive
	}
	var details any
	if len(entry.Details) > 0 {
		details = string(entry.Details)
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO change_logs (id, action, type, group_id, group_name, group_status, expense_id,
			 expense_name, performed_by_id, performed_by_name, details, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Action, string(entry.Type), entry.GroupID, entry.GroupName, string(entry.GroupStatus),
			entry.ExpenseID, entry.ExpenseName, entry.PerformedBy.UserID, entry.PerformedBy.UserName,
			details, entry.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert change log: %w", err)
		}
		return insertVisibility(ctx, tx, entry.ID, entry.VisibleTo)
	})
}

func insertVisibility(ctx context.Context, tx *sql.Tx, logID string, userIDs []string) error {
	for i, userID := range userIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO change_log_visibility (log_id, user_id, position) VALUES (?, ?, ?)",
			logID, userID, i,
		); err != nil {
			return fmt.Errorf("failed to insert change log visibility: %w", err)
		}
	}
	return nil
}

// FindChangeLogs returns entries visible to filter.UserID, newest first.
func (s *SQLiteStore) FindChangeLogs(ctx context.Context, filter storage.ChangeLogFilter) ([]*models.ChangeLogEntry, error) {
	var where []string
	args := []any{filter.UserID}
	add := func(clause, value string) {
		if value != "" {
			where = append(where, clause)
			args = append(args, value)
		}
	}
	add("c.group_status = ?", string(filter.GroupStatus))
	add("c.type = ?", string(filter.Type))
	add("c.group_id = ?", filter.GroupID)
	add("c.expense_id = ?", filter.ExpenseID)
	add("c.action = ?", filter.Action)

	query := `SELECT ` + changeLogColumns + `
		FROM change_logs c
		JOIN change_log_visibility v ON v.log_id = c.id
		WHERE v.user_id = ?`
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
	}
	query += " ORDER BY c.timestamp DESC, c.rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find change logs: %w", err)
	}

	var entries []*models.ChangeLogEntry
	byID := make(map[string]*models.ChangeLogEntry)
	for rows.Next() {
		entry := &models.ChangeLogEntry{}
		var details sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.Action, &entry.Type, &entry.GroupID, &entry.GroupName, &entry.GroupStatus,
			&entry.ExpenseID, &entry.ExpenseName, &entry.PerformedBy.UserID, &entry.PerformedBy.UserName,
			&details, &entry.Timestamp,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan change log: %w", err)
		}
		if details.Valid {
			entry.Details = []byte(details.String)
		}
		entries = append(entries, entry)
		byID[entry.ID] = entry
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate change logs: %w", err)
	}

	if err := s.loadVisibility(ctx, byID); err != nil {
		return nil, err
	}
	return entries, nil
}

// loadVisibility fills VisibleTo of every entry in byID.
func (s *SQLiteStore) loadVisibility(ctx context.Context, byID map[string]*models.ChangeLogEntry) error {
	if len(byID) == 0 {
		return nil
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT log_id, user_id FROM change_log_visibility
		 WHERE log_id IN (?`+repeatPlaceholder(len(ids)-1)+`)
		 ORDER BY log_id, position`,
		stringArgs(ids)...,
	)
	if err != nil {
		return fmt.Errorf("failed to get change log visibility: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var logID, userID string
		if err := rows.Scan(&logID, &userID); err != nil {
			return fmt.Errorf("failed to scan change log visibility: %w", err)
		}
		byID[logID].VisibleTo = append(byID[logID].VisibleTo, userID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate change log visibility: %w", err)
	}
	return nil
}

// SetGroupStatus updates group_status on every entry of a group.
func (s *SQLiteStore) SetGroupStatus(ctx context.Context, groupID string, status models.GroupStatus) (storage.UpdateResult, error) {
	var result storage.UpdateResult
	err := s.write(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM change_logs WHERE group_id = ?", groupID,
		).Scan(&result.Matched); err != nil {
			return fmt.Errorf("failed to count change logs: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			"UPDATE change_logs SET group_status = ? WHERE group_id = ? AND group_status != ?",
			string(status), groupID, string(status),
		)
		if err != nil {
			return fmt.Errorf("failed to update change log status: %w", err)
		}
		result.Modified, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		return nil
	})
	return result, err
}

// ReplaceVisibleTo sets the visibility of every entry of a group to exactly userIDs.
func (s *SQLiteStore) ReplaceVisibleTo(ctx context.Context, groupID string, userIDs []string) (storage.UpdateResult, error) {
	var result storage.UpdateResult
	err := s.write(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT c.id, COALESCE(v.user_id, '') FROM change_logs c
			 LEFT JOIN change_log_visibility v ON v.log_id = c.id
			 WHERE c.group_id = ?
			 ORDER BY c.id, v.position`,
			groupID,
		)
		if err != nil {
			return fmt.Errorf("failed to get change log visibility: %w", err)
		}
		var order []string
		current := make(map[string][]string)
		for rows.Next() {
			var logID, userID string
			if err := rows.Scan(&logID, &userID); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan change log visibility: %w", err)
			}
			if _, seen := current[logID]; !seen {
				order = append(order, logID)
				current[logID] = []string{}
			}
			if userID != "" {
				current[logID] = append(current[logID], userID)
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate change log visibility: %w", err)
		}

		result.Matched = int64(len(order))
		for _, logID := range order {
			if sameIDs(current[logID], userIDs) {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM change_log_visibility WHERE log_id = ?", logID); err != nil {
				return fmt.Errorf("failed to clear change log visibility: %w", err)
			}
			if err := insertVisibility(ctx, tx, logID, userIDs); err != nil {
				return err
			}
			result.Modified++
		}
		return nil
	})
	return result, err
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
