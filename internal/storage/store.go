// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/splitledger/internal/models"
)

// ErrNotFound is returned (wrapped) when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Store defines every persistence operation used by the core.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	UserStore
	GroupStore
	ChangeLogStore

	// Close releases any resources held by the store.
	Close() error
}

// UserStore persists user accounts.
type UserStore interface {
	// CreateUser persists a new user. user.ID is assigned when empty.
	// A duplicate username yields an apperr Conflict.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByID returns ErrNotFound (wrapped) when no user has the id.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// GetUserByUsername returns ErrNotFound (wrapped) when no user has the handle.
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// GetUsersByIDs returns a map of user ID to User. Unknown ids are omitted.
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)

	// ListUsers returns every user ordered by signup date.
	ListUsers(ctx context.Context) ([]*models.User, error)

	// UpdateUser overwrites the mutable fields of an existing user.
	UpdateUser(ctx context.Context, user *models.User) error

	// DeleteUser marks the user closed; the row and username are kept.
	DeleteUser(ctx context.Context, id string) error

	// UnpinGroupForAll removes groupID from every user's pinned list.
	UnpinGroupForAll(ctx context.Context, groupID string) error
}

// GroupStore persists groups together with their expenses and posts.
type GroupStore interface {
	// CreateGroup persists a new group with its members. group.ID is assigned when empty.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup loads a group with members, expenses and posts.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroupsByMember returns every group userID belongs to, newest first.
	ListGroupsByMember(ctx context.Context, userID string) ([]*models.Group, error)

	// UpdateGroupDetails overwrites name, description and currency.
	UpdateGroupDetails(ctx context.Context, group *models.Group) error

	// AddGroupMember appends userID to the member list.
	// Returns false when the user already is a member.
	AddGroupMember(ctx context.Context, groupID, userID string) (bool, error)

	// RemoveGroupMember removes userID. Returns false when the user was not a member.
	RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error)

	// DeleteGroup removes the group and everything it owns.
	DeleteGroup(ctx context.Context, groupID string) error

	// InsertExpense adds an expense to its group.
	InsertExpense(ctx context.Context, expense *models.Expense) error

	// UpdateExpense loads the expense, applies fn and writes the result back
	// in one transaction. fn errors abort the update and are returned unchanged.
	UpdateExpense(ctx context.Context, groupID, expenseID string, fn func(*models.Expense) error) (*models.Expense, error)

	// DeleteExpense removes an expense and returns it as it was.
	DeleteExpense(ctx context.Context, groupID, expenseID string) (*models.Expense, error)

	InsertPost(ctx context.Context, groupID string, post *models.Post) error

	// DeletePost removes a post and returns it as it was.
	DeletePost(ctx context.Context, groupID, postID string) (*models.Post, error)
}

// ChangeLogFilter narrows a change-log query. UserID is mandatory: every read is
// scoped to the entries visible to one user.
type ChangeLogFilter struct {
	UserID      string
	GroupStatus models.GroupStatus
	Type        models.EntityType
	GroupID     string
	ExpenseID   string
	Action      string
}

// UpdateResult reports a bulk update.
type UpdateResult struct {
	Matched  int64 `json:"matched"`
	Modified int64 `json:"modified"`
}

// ChangeLogStore persists change-log entries.
type ChangeLogStore interface {
	InsertChangeLog(ctx context.Context, entry *models.ChangeLogEntry) error

	// FindChangeLogs returns the entries matching filter, newest first.
	FindChangeLogs(ctx context.Context, filter ChangeLogFilter) ([]*models.ChangeLogEntry, error)

	// SetGroupStatus sets the status of every entry of a group.
	SetGroupStatus(ctx context.Context, groupID string, status models.GroupStatus) (UpdateResult, error)

	// ReplaceVisibleTo overwrites the visibility of every entry of a group.
	ReplaceVisibleTo(ctx context.Context, groupID string, userIDs []string) (UpdateResult, error)
}
