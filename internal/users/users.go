// Package users is the identity collaborator: it resolves login handles and ids,
// composes display names and manages per-user state such as pinned groups.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.uber.org/multierr"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/validate"
)

// Store is the persistence the user service needs.
type Store interface {
	storage.UserStore
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	ListGroupsByMember(ctx context.Context, userID string) ([]*models.Group, error)
}

// Leaver removes a member from a group and records the departure in its history.
type Leaver interface {
	RemoveMember(ctx context.Context, actorID, groupID, userID string) (*models.Group, error)
}

// Service implements user lookups and profile operations.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a user service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) load(ctx context.Context, userID string) (*models.User, error) {
	id, err := validate.ID("userId", userID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && user.IsDeleted()) {
		return nil, apperr.NotFound("User not found")
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get user")
	}
	return user, nil
}

// GetUser returns the user with the given id.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.load(ctx, userID)
}

// ResolveHandle returns the id of the user with the given login handle.
func (s *Service) ResolveHandle(ctx context.Context, username string) (string, error) {
	handle, err := validate.NonEmptyString("username", username)
	if err != nil {
		return "", err
	}
	user, err := s.store.GetUserByUsername(ctx, auth.NormalizeUsername(handle))
	if errors.Is(err, storage.ErrNotFound) || (err == nil && user.IsDeleted()) {
		return "", apperr.NotFound("User %s not found", handle)
	}
	if err != nil {
		return "", apperr.Persistence(err, "failed to resolve username")
	}
	return user.ID, nil
}

// DisplayName returns "First Last" for a user id.
func (s *Service) DisplayName(ctx context.Context, userID string) (string, error) {
	user, err := s.load(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.DisplayName(), nil
}

// DisplayNames maps each id to its display name, closed accounts included.
// Unknown ids map to themselves.
func (s *Service) DisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	found, err := s.store.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get users")
	}
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if user, ok := found[id]; ok {
			names[id] = user.DisplayName()
		} else {
			names[id] = id
		}
	}
	return names, nil
}

// NameIndex maps a display name to every user id carrying it.
type NameIndex map[string][]string

// Lookup returns the id for name when exactly one user carries it.
// ambiguous is true when several users share the name.
func (ni NameIndex) Lookup(name string) (id string, ambiguous bool, ok bool) {
	ids := ni[name]
	switch len(ids) {
	case 0:
		return "", false, false
	case 1:
		return ids[0], false, true
	default:
		return "", true, false
	}
}

// NameIndex builds the reverse display-name lookup over every account, closed ones included.
func (s *Service) NameIndex(ctx context.Context) (NameIndex, error) {
	all, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list users")
	}
	index := make(NameIndex, len(all))
	for _, user := range all {
		name := user.DisplayName()
		index[name] = append(index[name], user.ID)
	}
	for name := range index {
		sort.Strings(index[name])
	}
	return index, nil
}

// UpdateProfile changes a user's first and last name.
func (s *Service) UpdateProfile(ctx context.Context, userID, firstName, lastName string) (*models.User, error) {
	first, err := validate.NonEmptyString("firstName", firstName)
	if err != nil {
		return nil, err
	}
	last, err := validate.NonEmptyString("lastName", lastName)
	if err != nil {
		return nil, err
	}
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.FirstName, user.LastName = first, last
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Persistence(err, "failed to update user")
	}
	return user, nil
}

// PinGroup adds groupID to the user's pinned list. The user must be a member.
// Pinning an already pinned group is a no-op.
func (s *Service) PinGroup(ctx context.Context, userID, groupID string) (*models.User, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return nil, err
	}
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, gid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Group not found")
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get group")
	}
	if !group.HasMember(user.ID) {
		return nil, apperr.Conflict("You are not a member of this group")
	}
	if user.HasPinned(gid) {
		return user, nil
	}
	user.PinnedGroups = append(user.PinnedGroups, gid)
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Persistence(err, "failed to pin group")
	}
	return user, nil
}

// UnpinGroup removes groupID from the user's pinned list.
func (s *Service) UnpinGroup(ctx context.Context, userID, groupID string) (*models.User, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return nil, err
	}
	user, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.HasPinned(gid) {
		return user, nil
	}
	kept := make([]string, 0, len(user.PinnedGroups))
	for _, id := range user.PinnedGroups {
		if id != gid {
			kept = append(kept, id)
		}
	}
	user.PinnedGroups = kept
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, apperr.Persistence(err, "failed to unpin group")
	}
	return user, nil
}

// DeleteUser removes the user from every group through groups, then closes the account.
// Each departure is recorded as the user's own member removal. Departures continue past
// individual failures; all of them are reported together and the account stays open when any failed.
func (s *Service) DeleteUser(ctx context.Context, userID string, groups Leaver) error {
	user, err := s.load(ctx, userID)
	if err != nil {
		return err
	}

	memberOf, err := s.store.ListGroupsByMember(ctx, user.ID)
	if err != nil {
		return apperr.Persistence(err, "failed to list groups")
	}

	var errs error
	for _, g := range memberOf {
		if _, err := groups.RemoveMember(ctx, user.ID, g.ID, user.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to leave group %s: %w", g.ID, err))
		}
	}
	if errs != nil {
		return apperr.Persistence(errs, "failed to remove user from groups")
	}

	if err := s.store.DeleteUser(ctx, user.ID); err != nil {
		return apperr.Persistence(err, "failed to delete user")
	}
	s.logger.Info("User deleted", "user_id", user.ID, "groups_left", len(memberOf))
	return nil
}
