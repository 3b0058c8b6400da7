package models

import "time"

// Role is the privilege level of a user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User represents a registered user account.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string `json:"id"`

	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`

	// Username is the unique login handle, stored lower-cased.
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the user's password.
	// Never serialized.
	PasswordHash string `json:"-"`

	Role Role `json:"role"`

	// SignupDate is the Unix timestamp when the account was created.
	SignupDate int64 `json:"signupDate"`

	// LastLogin is the Unix timestamp of the last successful login (0 if never).
	LastLogin int64 `json:"lastLogin"`

	// PinnedGroups is the ordered list of group ids the user pinned.
	PinnedGroups []string `json:"pinnedGroups"`

	// DeletedAt is the Unix timestamp the account was closed (0 while active).
	// Closed accounts keep their names and handle.
	DeletedAt int64 `json:"deletedAt,omitempty"`
}

// NewUser creates a new User with the given names and password hash.
// The ID is left empty; the store assigns it.
func NewUser(firstName, lastName, username, passwordHash string) *User {
	return &User{
		FirstName:    firstName,
		LastName:     lastName,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         RoleUser,
		SignupDate:   time.Now().Unix(),
		PinnedGroups: []string{},
	}
}

// DisplayName composes the name shown to other users.
func (u *User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}

// IsDeleted reports whether the account was closed.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != 0
}

// HasPinned reports whether groupID is in the user's pinned list.
func (u *User) HasPinned(groupID string) bool {
	for _, id := range u.PinnedGroups {
		if id == groupID {
			return true
		}
	}
	return false
}

// Actor returns the change-log actor for the user, snapshotting the current display name.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, UserName: u.DisplayName()}
}
