package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// change_logs deliberately has no foreign key to groups: entries outlive their group.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    first_name TEXT NOT NULL,
    last_name TEXT NOT NULL,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'user',
    signup_date INTEGER NOT NULL,
    last_login INTEGER NOT NULL DEFAULT 0,
    pinned_groups TEXT NOT NULL DEFAULT '[]',
    deleted_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL DEFAULT 'USD',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (group_id, user_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS expenses (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    name TEXT NOT NULL,
    cost TEXT NOT NULL,
    deadline TEXT NOT NULL,
    payee TEXT NOT NULL,
    payers TEXT NOT NULL,
    distribution_type TEXT NOT NULL,
    payer_amounts TEXT NOT NULL DEFAULT '[]',
    payments TEXT NOT NULL DEFAULT '[]',
    archived INTEGER NOT NULL DEFAULT 0,
    file TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS posts (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    poster_id TEXT NOT NULL,
    title TEXT NOT NULL,
    body TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS change_logs (
    id TEXT PRIMARY KEY,
    action TEXT NOT NULL,
    type TEXT NOT NULL,
    group_id TEXT NOT NULL,
    group_name TEXT NOT NULL,
    group_status TEXT NOT NULL DEFAULT 'active',
    expense_id TEXT NOT NULL DEFAULT '',
    expense_name TEXT NOT NULL DEFAULT '',
    performed_by_id TEXT NOT NULL,
    performed_by_name TEXT NOT NULL,
    details TEXT,
    timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS change_log_visibility (
    log_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    PRIMARY KEY (log_id, user_id),
    FOREIGN KEY (log_id) REFERENCES change_logs(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_expenses_group_id ON expenses(group_id);
CREATE INDEX IF NOT EXISTS idx_posts_group_id ON posts(group_id);
CREATE INDEX IF NOT EXISTS idx_change_logs_group_id ON change_logs(group_id);
CREATE INDEX IF NOT EXISTS idx_change_logs_expense_id ON change_logs(expense_id);
CREATE INDEX IF NOT EXISTS idx_change_log_visibility_user_id ON change_log_visibility(user_id);
`

// columns added after the first release; older databases get them via ALTER TABLE.
var addedColumns = []struct{ table, column, def string }{
	{"users", "deleted_at", "INTEGER NOT NULL DEFAULT 0"},
}

// runMigrations executes the schema setup.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	for _, c := range addedColumns {
		var n int
		err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, c.table, c.column).Scan(&n)
		if err != nil {
			return fmt.Errorf("failed to inspect %s: %w", c.table, err)
		}
		if n > 0 {
			continue
		}
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.def)); err != nil {
			return fmt.Errorf("failed to add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}
