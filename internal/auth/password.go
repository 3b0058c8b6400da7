package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/validate"
)

const minPasswordLength = 8

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// UserStorage defines the interface for user persistence operations.
// This allows the authenticator to be independent of the storage implementation.
type UserStorage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
}

// PasswordAuthenticator implements password-based authentication using bcrypt.
type PasswordAuthenticator struct {
	storage UserStorage
	cost    int
	now     func() time.Time
}

// NewPasswordAuthenticator creates a new password-based authenticator.
func NewPasswordAuthenticator(storage UserStorage) *PasswordAuthenticator {
	return &PasswordAuthenticator{
		storage: storage,
		cost:    bcrypt.DefaultCost,
		now:     time.Now,
	}
}

// WithCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (a *PasswordAuthenticator) WithCost(cost int) *PasswordAuthenticator {
	a.cost = cost
	return a
}

// ValidateCredential checks if the password meets minimum requirements.
func (a *PasswordAuthenticator) ValidateCredential(credential string) error {
	if len(credential) < minPasswordLength {
		return apperr.InvalidArgument("password", apperr.RuleRange, "%s", ErrWeakPassword.Error())
	}
	return nil
}

// NormalizeUsername trims and lower-cases a login handle.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// Register creates a new user account with a hashed password.
// A taken username yields an apperr Conflict.
func (a *PasswordAuthenticator) Register(ctx context.Context, firstName, lastName, username, credential string) (*models.User, error) {
	first, err := validate.NonEmptyString("firstName", firstName)
	if err != nil {
		return nil, err
	}
	last, err := validate.NonEmptyString("lastName", lastName)
	if err != nil {
		return nil, err
	}
	handle, err := validate.NonEmptyString("username", username)
	if err != nil {
		return nil, err
	}
	handle = NormalizeUsername(handle)
	if err := validate.Length("username", handle, 3, 30); err != nil {
		return nil, err
	}

	// Validate password strength
	if err := a.ValidateCredential(credential); err != nil {
		return nil, err
	}

	// Hash the password
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(credential), a.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := models.NewUser(first, last, handle, string(hashedPassword))

	// Save to storage; the store rejects duplicate usernames atomically.
	if err := a.storage.CreateUser(ctx, user); err != nil {
		if apperr.IsConflict(err) {
			return nil, err
		}
		return nil, apperr.Persistence(err, "failed to create user")
	}

	return user, nil
}

// Authenticate verifies the username and password, returning the user if valid.
// A successful login records LastLogin.
func (a *PasswordAuthenticator) Authenticate(ctx context.Context, username, credential string) (*models.User, error) {
	user, err := a.storage.GetUserByUsername(ctx, NormalizeUsername(username))
	if err != nil || user.IsDeleted() {
		return nil, ErrInvalidCredentials
	}

	// Compare password hash
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(credential)); err != nil {
		return nil, ErrInvalidCredentials
	}

	user.LastLogin = a.now().Unix()
	if err := a.storage.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Persistence(err, "failed to record login")
	}

	return user, nil
}
