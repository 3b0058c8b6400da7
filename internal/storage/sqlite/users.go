package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
)

const userColumns = `id, first_name, last_name, username, password_hash, role, signup_date, last_login, pinned_groups, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var pinned sql.NullString
	if err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.SignupDate,
		&user.LastLogin,
		&pinned,
		&user.DeletedAt,
	); err != nil {
		return nil, err
	}
	user.PinnedGroups = []string{}
	if err := decodeJSON(pinned, &user.PinnedGroups); err != nil {
		return nil, fmt.Errorf("failed to decode pinned groups: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user into the database.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.SignupDate == 0 {
		user.SignupDate = s.now().Unix()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	if user.PinnedGroups == nil {
		user.PinnedGroups = []string{}
	}
	pinned, err := encodeJSON(user.PinnedGroups)
	if err != nil {
		return fmt.Errorf("failed to encode pinned groups: %w", err)
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM users WHERE username = ?", user.Username).Scan(&exists)
		if err == nil {
			return apperr.Conflict("Username %s is already taken", user.Username)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check username: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.ID, user.FirstName, user.LastName, user.Username, user.PasswordHash,
			user.Role, user.SignupDate, user.LastLogin, pinned, user.DeletedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

// GetUserByUsername retrieves a user by their login handle.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return getUserByID(ctx, s.db, id)
}

func getUserByID(ctx context.Context, q querier, id string) (*models.User, error) {
	user, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetUsersByIDs retrieves multiple users by their IDs.
// Returns a map of user ID to User object.
// Users that don't exist are omitted from the result.
func (s *SQLiteStore) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	if len(ids) == 0 {
		return make(map[string]*models.User), nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id IN (?` + repeatPlaceholder(len(ids)-1) + `)`
	rows, err := s.db.QueryContext(ctx, query, stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to get users by IDs: %w", err)
	}
	defer rows.Close()

	users := make(map[string]*models.User)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users[user.ID] = user
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// ListUsers returns all users ordered by signup date.
func (s *SQLiteStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY signup_date, rowid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// UpdateUser overwrites names, role, last login and pinned groups.
func (s *SQLiteStore) UpdateUser(ctx context.Context, user *models.User) error {
	pinned, err := encodeJSON(user.PinnedGroups)
	if err != nil {
		return fmt.Errorf("failed to encode pinned groups: %w", err)
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET first_name = ?, last_name = ?, password_hash = ?, role = ?, last_login = ?, pinned_groups = ?
			 WHERE id = ?`,
			user.FirstName, user.LastName, user.PasswordHash, user.Role, user.LastLogin, pinned, user.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return notFound("user", user.ID)
		}
		return nil
	})
}

// DeleteUser closes an account by ID. The row stays so names keep resolving and the
// username stays taken; only the pinned list is cleared.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET deleted_at = ?, pinned_groups = '[]' WHERE id = ? AND deleted_at = 0`,
			s.now().Unix(), id)
		if err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return notFound("user", id)
		}
		return nil
	})
}

// UnpinGroupForAll removes groupID from the pinned list of every user that pinned it.
func (s *SQLiteStore) UnpinGroupForAll(ctx context.Context, groupID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE pinned_groups LIKE ?`, "%"+groupID+"%")
		if err != nil {
			return fmt.Errorf("failed to find pinning users: %w", err)
		}
		var users []*models.User
		for rows.Next() {
			user, err := scanUser(rows)
			if err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan user: %w", err)
			}
			users = append(users, user)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating users: %w", err)
		}

		for _, user := range users {
			kept := make([]string, 0, len(user.PinnedGroups))
			for _, id := range user.PinnedGroups {
				if id != groupID {
					kept = append(kept, id)
				}
			}
			pinned, err := encodeJSON(kept)
			if err != nil {
				return fmt.Errorf("failed to encode pinned groups: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE users SET pinned_groups = ? WHERE id = ?", pinned, user.ID); err != nil {
				return fmt.Errorf("failed to unpin group: %w", err)
			}
		}
		return nil
	})
}
