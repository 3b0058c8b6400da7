package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/models"
)

// CreateGroup persists a new group and its initial members.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group) error {
	// Generate IDs if not set
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt == 0 {
		group.CreatedAt = s.now().Unix()
	}
	group.UpdatedAt = group.CreatedAt
	if group.Currency == "" {
		group.Currency = models.DefaultCurrency
	}
	if group.Members == nil {
		group.Members = []string{}
	}
	if group.Expenses == nil {
		group.Expenses = make(map[string]*models.Expense)
	}
	if group.Posts == nil {
		group.Posts = []models.Post{}
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO groups (id, name, description, currency, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			group.ID, group.Name, group.Description, group.Currency, group.CreatedAt, group.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert group: %w", err)
		}

		for i, member := range group.Members {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO group_members (group_id, user_id, position) VALUES (?, ?, ?)",
				group.ID, member, i,
			); err != nil {
				return fmt.Errorf("failed to insert group member: %w", err)
			}
		}
		return nil
	})
}

// GetGroup retrieves a group by ID, including members, expenses and posts.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	return getGroup(ctx, s.db, groupID)
}

func getGroup(ctx context.Context, q querier, groupID string) (*models.Group, error) {
	group := &models.Group{}
	err := q.QueryRowContext(ctx,
		"SELECT id, name, description, currency, created_at, updated_at FROM groups WHERE id = ?",
		groupID,
	).Scan(&group.ID, &group.Name, &group.Description, &group.Currency, &group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("group", groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	if group.Members, err = listMembers(ctx, q, groupID); err != nil {
		return nil, err
	}

	expenses, err := listExpenses(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	group.Expenses = make(map[string]*models.Expense, len(expenses))
	for _, e := range expenses {
		group.Expenses[e.ID] = e
	}

	if group.Posts, err = listPosts(ctx, q, groupID); err != nil {
		return nil, err
	}

	return group, nil
}

func listMembers(ctx context.Context, q querier, groupID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT user_id FROM group_members WHERE group_id = ? ORDER BY position",
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}
	return members, nil
}

// ListGroupsByMember retrieves all groups userID belongs to, newest first.
func (s *SQLiteStore) ListGroupsByMember(ctx context.Context, userID string) ([]*models.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT g.id FROM groups g
		 JOIN group_members m ON m.group_id = g.id
		 WHERE m.user_id = ?
		 ORDER BY g.created_at DESC, g.rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	groups := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		group, err := getGroup(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// UpdateGroupDetails updates name, description and currency of an existing group.
func (s *SQLiteStore) UpdateGroupDetails(ctx context.Context, group *models.Group) error {
	group.UpdatedAt = s.now().Unix()
	return s.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			"UPDATE groups SET name = ?, description = ?, currency = ?, updated_at = ? WHERE id = ?",
			group.Name, group.Description, group.Currency, group.UpdatedAt, group.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update group: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return notFound("group", group.ID)
		}
		return nil
	})
}

// AddGroupMember appends userID to the end of the member list.
func (s *SQLiteStore) AddGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	added := false
	err := s.write(ctx, func(tx *sql.Tx) error {
		if err := touchGroup(ctx, tx, groupID, s.now().Unix()); err != nil {
			return err
		}

		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID,
		).Scan(&exists)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check group member: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, position)
			 VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM group_members WHERE group_id = ?))`,
			groupID, userID, groupID,
		); err != nil {
			return fmt.Errorf("failed to insert group member: %w", err)
		}
		added = true
		return nil
	})
	return added, err
}

// RemoveGroupMember deletes userID from the member list.
func (s *SQLiteStore) RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	removed := false
	err := s.write(ctx, func(tx *sql.Tx) error {
		if err := touchGroup(ctx, tx, groupID, s.now().Unix()); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			"DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove group member: %w", err)
		}
		n, _ := result.RowsAffected()
		removed = n > 0
		return nil
	})
	return removed, err
}

// DeleteGroup removes a group with its members, expenses and posts.
// Change-log entries are kept.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, groupID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"group_members", "expenses", "posts"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE group_id = ?", groupID); err != nil {
				return fmt.Errorf("failed to delete from %s: %w", table, err)
			}
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID)
		if err != nil {
			return fmt.Errorf("failed to delete group: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return notFound("group", groupID)
		}
		return nil
	})
}

// touchGroup bumps updated_at and fails with not found when the group is missing.
func touchGroup(ctx context.Context, tx *sql.Tx, groupID string, now int64) error {
	result, err := tx.ExecContext(ctx, "UPDATE groups SET updated_at = ? WHERE id = ?", now, groupID)
	if err != nil {
		return fmt.Errorf("failed to touch group: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound("group", groupID)
	}
	return nil
}
