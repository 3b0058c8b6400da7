// Package groups implements group records, membership, posts and group deletion.
// Authorization (who may mutate which group) is the caller's concern.
package groups

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/changelog"
	"github.com/mmynk/splitledger/internal/currency"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/validate"
)

// Store is the persistence the group service needs.
type Store interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	ListGroupsByMember(ctx context.Context, userID string) ([]*models.Group, error)
	UpdateGroupDetails(ctx context.Context, group *models.Group) error
	AddGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	DeleteGroup(ctx context.Context, groupID string) error
	InsertPost(ctx context.Context, groupID string, post *models.Post) error
	DeletePost(ctx context.Context, groupID, postID string) (*models.Post, error)
	UnpinGroupForAll(ctx context.Context, groupID string) error
}

// Identity resolves users.
type Identity interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	ResolveHandle(ctx context.Context, username string) (string, error)
	DisplayNames(ctx context.Context, ids []string) (map[string]string, error)
}

// ChangeLog is the part of the change-log engine the group service writes to.
type ChangeLog interface {
	AddChangeLog(ctx context.Context, in changelog.NewEntry) (*models.ChangeLogEntry, error)
	AddChangeLogToAllMembers(ctx context.Context, in changelog.NewEntry) (*models.ChangeLogEntry, error)
	MarkGroupAsDeleted(ctx context.Context, groupID string) (storage.UpdateResult, error)
	UpdateVisibleToForGroup(ctx context.Context, groupID string, memberIDs []string) (storage.UpdateResult, error)
}

const (
	nameMin        = 5
	nameMax        = 50
	descriptionMax = 20000
	postTitleMax   = 100
	postBodyMax    = 5000
)

// Service implements group operations.
type Service struct {
	store     Store
	identity  Identity
	changelog ChangeLog
	logger    *slog.Logger
}

// NewService creates a group service.
func NewService(store Store, identity Identity, changelog ChangeLog, logger *slog.Logger) *Service {
	return &Service{store: store, identity: identity, changelog: changelog, logger: logger}
}

// Details are the editable attributes of a group.
type Details struct {
	Name        string
	Description string
	// Currency is an ISO 4217 code; empty means USD.
	Currency string
}

func validateDetails(d Details) (Details, error) {
	name, err := validate.NonEmptyString("name", d.Name)
	if err != nil {
		return Details{}, err
	}
	if err := validate.Length("name", name, nameMin, nameMax); err != nil {
		return Details{}, err
	}
	description, _ := validate.String("description", d.Description)
	if err := validate.Length("description", description, 0, descriptionMax); err != nil {
		return Details{}, err
	}
	code, err := currency.Normalize(d.Currency)
	if err != nil {
		return Details{}, err
	}
	return Details{Name: name, Description: description, Currency: code}, nil
}

func (s *Service) actor(ctx context.Context, actorID string) (models.Actor, error) {
	user, err := s.identity.GetUser(ctx, actorID)
	if err != nil {
		return models.Actor{}, err
	}
	return user.Actor(), nil
}

// load fetches a group, mapping a missing row to NotFound with message.
func (s *Service) load(ctx context.Context, groupID, message string) (*models.Group, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return nil, err
	}
	group, err := s.store.GetGroup(ctx, gid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("%s", message)
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get group")
	}
	return group, nil
}

// record writes a change-log entry to all members. Failures are logged and do not
// undo the mutation that triggered them.
func (s *Service) record(ctx context.Context, in changelog.NewEntry) {
	if _, err := s.changelog.AddChangeLogToAllMembers(ctx, in); err != nil {
		s.logger.Warn("Failed to record change log", "action", in.Action, "group_id", in.GroupID, "error", err)
	}
}

// CreateGroup creates an empty group. The group_created entry is visible to the creator.
func (s *Service) CreateGroup(ctx context.Context, actorID string, d Details) (*models.Group, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	d, err = validateDetails(d)
	if err != nil {
		return nil, err
	}

	group := &models.Group{
		Name:        d.Name,
		Description: d.Description,
		Currency:    d.Currency,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, apperr.Persistence(err, "failed to create group")
	}

	if _, err := s.changelog.AddChangeLog(ctx, changelog.NewEntry{
		Action:      models.ActionGroupCreated,
		Type:        models.EntityGroup,
		GroupID:     group.ID,
		GroupName:   group.Name,
		PerformedBy: actor,
		VisibleTo:   []string{actor.UserID},
		Details: models.GroupSnapshot{
			Name:        group.Name,
			Description: group.Description,
			Currency:    group.Currency,
			Members:     group.Members,
			CreatedAt:   group.CreatedAt,
		},
	}); err != nil {
		s.logger.Warn("Failed to record change log", "action", models.ActionGroupCreated, "group_id", group.ID, "error", err)
	}

	s.logger.Info("Group created", "group_id", group.ID, "name", group.Name)
	return group, nil
}

// GetGroup returns a group with its expenses and posts.
func (s *Service) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	return s.load(ctx, groupID, "Group not found")
}

// ListGroupsForUser returns the groups userID belongs to, newest first.
func (s *Service) ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error) {
	uid, err := validate.ID("userId", userID)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.ListGroupsByMember(ctx, uid)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to list groups")
	}
	if groups == nil {
		groups = []*models.Group{}
	}
	return groups, nil
}

// UpdateGroup changes name, description and currency. Unchanged input writes nothing.
func (s *Service) UpdateGroup(ctx context.Context, actorID, groupID string, d Details) (*models.Group, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	d, err = validateDetails(d)
	if err != nil {
		return nil, err
	}
	group, err := s.load(ctx, groupID, "Group not found")
	if err != nil {
		return nil, err
	}

	changes := make(map[string]models.FieldChange)
	if group.Name != d.Name {
		changes["name"] = models.FieldChange{Old: group.Name, New: d.Name}
	}
	if group.Description != d.Description {
		changes["description"] = models.FieldChange{Old: group.Description, New: d.Description}
	}
	if group.Currency != d.Currency {
		changes["currency"] = models.FieldChange{Old: group.Currency, New: d.Currency}
	}
	if len(changes) == 0 {
		return group, nil
	}

	group.Name, group.Description, group.Currency = d.Name, d.Description, d.Currency
	if err := s.store.UpdateGroupDetails(ctx, group); err != nil {
		return nil, apperr.Persistence(err, "failed to update group")
	}

	s.record(ctx, changelog.NewEntry{
		Action:      models.ActionGroupEdited,
		Type:        models.EntityGroup,
		GroupID:     group.ID,
		GroupName:   group.Name,
		PerformedBy: actor,
		Details:     changes,
	})
	return group, nil
}

// AddMember adds the user with the given login handle to the group.
// Adding an existing member is a Conflict. The new member sees only entries
// written from now on; older history needs SyncChangeLogVisibility.
func (s *Service) AddMember(ctx context.Context, actorID, groupID, username string) (*models.Group, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	group, err := s.load(ctx, groupID, "Group not found")
	if err != nil {
		return nil, err
	}
	userID, err := s.identity.ResolveHandle(ctx, username)
	if err != nil {
		return nil, err
	}
	if group.HasMember(userID) {
		return nil, apperr.Conflict("User is already a member of this group")
	}

	added, err := s.store.AddGroupMember(ctx, group.ID, userID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to add member")
	}
	if !added {
		return nil, apperr.Conflict("User is already a member of this group")
	}
	group.Members = append(group.Members, userID)

	names, err := s.identity.DisplayNames(ctx, []string{userID})
	if err != nil {
		names = map[string]string{userID: userID}
	}
	s.record(ctx, changelog.NewEntry{
		Action:      models.ActionMemberAdded,
		Type:        models.EntityGroup,
		GroupID:     group.ID,
		GroupName:   group.Name,
		PerformedBy: actor,
		Details:     models.MemberDetails{UserID: userID, UserName: names[userID]},
	})
	return group, nil
}

// RemoveMember prunes userID from the member list. The member_removed entry is visible
// to everyone who was a member before the removal; older entries are left as they are.
func (s *Service) RemoveMember(ctx context.Context, actorID, groupID, userID string) (*models.Group, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	uid, err := validate.ID("userId", userID)
	if err != nil {
		return nil, err
	}
	group, err := s.load(ctx, groupID, "Group not found")
	if err != nil {
		return nil, err
	}
	if !group.HasMember(uid) {
		return nil, apperr.NotFound("User is not a member of this group")
	}
	before := append([]string{}, group.Members...)

	if _, err := s.store.RemoveGroupMember(ctx, group.ID, uid); err != nil {
		return nil, apperr.Persistence(err, "failed to remove member")
	}
	kept := make([]string, 0, len(group.Members))
	for _, m := range group.Members {
		if m != uid {
			kept = append(kept, m)
		}
	}
	group.Members = kept

	names, err := s.identity.DisplayNames(ctx, []string{uid})
	if err != nil {
		names = map[string]string{uid: uid}
	}
	if _, err := s.changelog.AddChangeLog(ctx, changelog.NewEntry{
		Action:      models.ActionMemberRemoved,
		Type:        models.EntityGroup,
		GroupID:     group.ID,
		GroupName:   group.Name,
		PerformedBy: actor,
		VisibleTo:   before,
		Details:     models.MemberDetails{UserID: uid, UserName: names[uid]},
	}); err != nil {
		s.logger.Warn("Failed to record change log", "action", models.ActionMemberRemoved, "group_id", group.ID, "error", err)
	}
	return group, nil
}

// SyncChangeLogVisibility makes the group's whole history visible to exactly its current members.
func (s *Service) SyncChangeLogVisibility(ctx context.Context, groupID string) (storage.UpdateResult, error) {
	group, err := s.load(ctx, groupID, "Group not found")
	if err != nil {
		return storage.UpdateResult{}, err
	}
	return s.changelog.UpdateVisibleToForGroup(ctx, group.ID, group.Members)
}

// DeleteGroup snapshots the group into a group_deleted entry, marks the group's history
// as deleted, removes the group and unpins it everywhere.
// Deleting a missing or already deleted group fails with NotFound.
func (s *Service) DeleteGroup(ctx context.Context, actorID, groupID string) (bool, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return false, err
	}
	group, err := s.load(ctx, groupID, "Group not found or already deleted")
	if err != nil {
		return false, err
	}

	names, err := s.identity.DisplayNames(ctx, group.Members)
	if err != nil {
		return false, err
	}
	snapshot := models.GroupSnapshot{
		Name:        group.Name,
		Description: group.Description,
		Currency:    group.Currency,
		Members:     group.Members,
		MemberNames: make([]string, 0, len(group.Members)),
		Expenses:    group.ExpenseList(),
		CreatedAt:   group.CreatedAt,
	}
	for _, m := range group.Members {
		snapshot.MemberNames = append(snapshot.MemberNames, names[m])
	}

	visibleTo := group.Members
	if len(visibleTo) == 0 {
		visibleTo = []string{actor.UserID}
	}
	// The snapshot is what keeps the group reconstructable, so failing to write it aborts.
	if _, err := s.changelog.AddChangeLog(ctx, changelog.NewEntry{
		Action:      models.ActionGroupDeleted,
		Type:        models.EntityGroup,
		GroupID:     group.ID,
		GroupName:   group.Name,
		PerformedBy: actor,
		VisibleTo:   visibleTo,
		Details:     snapshot,
		GroupStatus: models.GroupDeleted,
	}); err != nil {
		return false, err
	}

	result, err := s.changelog.MarkGroupAsDeleted(ctx, group.ID)
	if err != nil {
		return false, err
	}

	if err := s.store.DeleteGroup(ctx, group.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, apperr.NotFound("Group not found or already deleted")
		}
		return false, apperr.Persistence(err, "failed to delete group")
	}

	if err := s.store.UnpinGroupForAll(ctx, group.ID); err != nil {
		s.logger.Warn("Failed to unpin deleted group", "group_id", group.ID, "error", err)
	}

	s.logger.Info("Group deleted",
		"group_id", group.ID,
		"expenses_count", len(snapshot.Expenses),
		"logs_marked", result.Modified,
	)
	return true, nil
}

// CalculateGroupBalances returns the netted debtor -> creditor balances of a group.
func (s *Service) CalculateGroupBalances(ctx context.Context, groupID string) (calculator.Balances, error) {
	group, err := s.load(ctx, groupID, "Group not found")
	if err != nil {
		return nil, err
	}
	return calculator.CalculateGroupBalances(group.ExpenseList()), nil
}

// AddPost adds a post to the group's board.
func (s *Service) AddPost(ctx context.Context, actorID, groupID, title, body string) (*models.Post, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	t, err := validate.NonEmptyString("title", title)
	if err != nil {
		return nil, err
	}
	if err := validate.Length("title", t, 1, postTitleMax); err != nil {
		return nil, err
	}
	b, err := validate.NonEmptyString("body", body)
	if err != nil {
		return nil, err
	}
	if err := validate.Length("body", b, 1, postBodyMax); err != nil {
		return nil, err
	}
	group, err := s.load(ctx, groupID, "Group not found")
	if err != nil {
		return nil, err
	}

	post := &models.Post{PosterID: actor.UserID, Title: t, Body: b}
	if err := s.store.InsertPost(ctx, group.ID, post); err != nil {
		return nil, apperr.Persistence(err, "failed to add post")
	}

	s.record(ctx, changelog.NewEntry{
		Action:      models.ActionPostAdded,
		Type:        models.EntityGroup,
		GroupID:     group.ID,
		GroupName:   group.Name,
		PerformedBy: actor,
		Details:     map[string]string{"postId": post.ID, "title": post.Title},
	})
	return post, nil
}

// DeletePost removes a post and returns it.
func (s *Service) DeletePost(ctx context.Context, actorID, groupID, postID string) (*models.Post, error) {
	actor, err := s.actor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	pid, err := validate.ID("postId", postID)
	if err != nil {
		return nil, err
	}
	group, err := s.load(ctx, groupID, "Group not found")
	if err != nil {
		return nil, err
	}

	post, err := s.store.DeletePost(ctx, group.ID, pid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Post not found")
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to delete post")
	}

	s.record(ctx, changelog.NewEntry{
		Action:      models.ActionPostDeleted,
		Type:        models.EntityGroup,
		GroupID:     group.ID,
		GroupName:   group.Name,
		PerformedBy: actor,
		Details:     map[string]string{"postId": post.ID, "title": post.Title},
	})
	return post, nil
}
