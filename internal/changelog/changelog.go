// Package changelog is the append-only audit trail of group and expense mutations.
//
// Every read is scoped to one user: an entry is returned only when the user is in its
// visibleTo set. Entries carry snapshots (group name, expense name, details) taken at
// write time, which is what allows deleted groups and expenses to be rebuilt later.
package changelog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
	"github.com/mmynk/splitledger/internal/users"
	"github.com/mmynk/splitledger/internal/validate"
)

// Store is the persistence the engine needs.
type Store interface {
	storage.ChangeLogStore
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
}

// Identity resolves display names recorded in entries back to user ids.
type Identity interface {
	NameIndex(ctx context.Context) (users.NameIndex, error)
}

// Engine writes and queries change-log entries.
type Engine struct {
	store    Store
	identity Identity
	now      func() time.Time
}

// NewEngine creates a change-log engine.
func NewEngine(store Store, identity Identity) *Engine {
	return &Engine{store: store, identity: identity, now: time.Now}
}

// NewEntry is the input of AddChangeLog.
type NewEntry struct {
	Action      string
	Type        models.EntityType
	GroupID     string
	GroupName   string
	ExpenseID   string
	ExpenseName string
	PerformedBy models.Actor
	// VisibleTo is ignored by AddChangeLogToAllMembers.
	VisibleTo []string
	// Details must marshal to a JSON object. nil means no details.
	Details any
	// GroupStatus defaults to active.
	GroupStatus models.GroupStatus
}

// Filter narrows GetUserChangeLogs. Zero fields match everything.
type Filter struct {
	GroupStatus models.GroupStatus
	Type        models.EntityType
	GroupID     string
	ExpenseID   string
	Action      string
}

// AddChangeLog validates and persists one immutable entry.
func (e *Engine) AddChangeLog(ctx context.Context, in NewEntry) (*models.ChangeLogEntry, error) {
	entry, err := e.build(in)
	if err != nil {
		return nil, err
	}
	visibleTo, err := validate.IDList("visibleTo", dedupe(in.VisibleTo))
	if err != nil {
		return nil, err
	}
	entry.VisibleTo = visibleTo

	if err := e.store.InsertChangeLog(ctx, entry); err != nil {
		return nil, apperr.Persistence(err, "failed to add change log")
	}
	return entry, nil
}

// AddChangeLogToAllMembers writes an entry visible to every current member of the group.
func (e *Engine) AddChangeLogToAllMembers(ctx context.Context, in NewEntry) (*models.ChangeLogEntry, error) {
	groupID, err := validate.ID("groupId", in.GroupID)
	if err != nil {
		return nil, err
	}
	group, err := e.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("Group not found")
	}
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get group")
	}
	if len(group.Members) == 0 {
		return nil, apperr.Conflict("Group has no members")
	}
	in.VisibleTo = group.Members
	return e.AddChangeLog(ctx, in)
}

// build validates everything but visibility.
func (e *Engine) build(in NewEntry) (*models.ChangeLogEntry, error) {
	action, err := validate.NonEmptyString("action", in.Action)
	if err != nil {
		return nil, err
	}
	if err := validate.OneOf("type", string(in.Type), string(models.EntityGroup), string(models.EntityExpense)); err != nil {
		return nil, err
	}
	groupID, err := validate.ID("groupId", in.GroupID)
	if err != nil {
		return nil, err
	}
	groupName, err := validate.NonEmptyString("groupName", in.GroupName)
	if err != nil {
		return nil, err
	}

	var expenseID, expenseName string
	if in.Type == models.EntityExpense || in.ExpenseID != "" {
		if expenseID, err = validate.ID("expenseId", in.ExpenseID); err != nil {
			return nil, err
		}
		if expenseName, err = validate.String("expenseName", in.ExpenseName); err != nil {
			return nil, err
		}
	}

	actorID, err := validate.ID("performedBy.userId", in.PerformedBy.UserID)
	if err != nil {
		return nil, err
	}
	actorName, err := validate.NonEmptyString("performedBy.userName", in.PerformedBy.UserName)
	if err != nil {
		return nil, err
	}

	status := in.GroupStatus
	if status == "" {
		status = models.GroupActive
	}
	if err := validate.OneOf("groupStatus", string(status), string(models.GroupActive), string(models.GroupDeleted)); err != nil {
		return nil, err
	}

	details, err := encodeDetails(in.Details)
	if err != nil {
		return nil, err
	}

	return &models.ChangeLogEntry{
		Action:      action,
		Type:        in.Type,
		GroupID:     groupID,
		GroupName:   groupName,
		GroupStatus: status,
		ExpenseID:   expenseID,
		ExpenseName: expenseName,
		PerformedBy: models.Actor{UserID: actorID, UserName: actorName},
		Details:     details,
		Timestamp:   e.now().UnixMilli(),
	}, nil
}

func encodeDetails(details any) (json.RawMessage, error) {
	if details == nil {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, apperr.InvalidArgument("details", apperr.RuleType, "details must be an object")
	}
	if bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("{")) {
		return nil, apperr.InvalidArgument("details", apperr.RuleType, "details must be an object")
	}
	return raw, nil
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// GetUserChangeLogs returns the entries visible to userID that match f, newest first.
func (e *Engine) GetUserChangeLogs(ctx context.Context, userID string, f Filter) ([]*models.ChangeLogEntry, error) {
	uid, err := validate.ID("userId", userID)
	if err != nil {
		return nil, err
	}
	q := storage.ChangeLogFilter{UserID: uid, Action: f.Action}
	if f.GroupStatus != "" {
		if err := validate.OneOf("groupStatus", string(f.GroupStatus), string(models.GroupActive), string(models.GroupDeleted)); err != nil {
			return nil, err
		}
		q.GroupStatus = f.GroupStatus
	}
	if f.Type != "" {
		if err := validate.OneOf("type", string(f.Type), string(models.EntityGroup), string(models.EntityExpense)); err != nil {
			return nil, err
		}
		q.Type = f.Type
	}
	if f.GroupID != "" {
		if q.GroupID, err = validate.ID("groupId", f.GroupID); err != nil {
			return nil, err
		}
	}
	if f.ExpenseID != "" {
		if q.ExpenseID, err = validate.ID("expenseId", f.ExpenseID); err != nil {
			return nil, err
		}
	}

	entries, err := e.store.FindChangeLogs(ctx, q)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to get change logs")
	}
	if entries == nil {
		entries = []*models.ChangeLogEntry{}
	}
	return entries, nil
}

// GetGroupChangeLogsForUser returns the entries of one group visible to userID.
func (e *Engine) GetGroupChangeLogsForUser(ctx context.Context, userID, groupID string) ([]*models.ChangeLogEntry, error) {
	if _, err := validate.ID("groupId", groupID); err != nil {
		return nil, err
	}
	return e.GetUserChangeLogs(ctx, userID, Filter{GroupID: groupID})
}

// GetExpenseChangeLogsForUser returns the entries of one expense visible to userID.
func (e *Engine) GetExpenseChangeLogsForUser(ctx context.Context, userID, groupID, expenseID string) ([]*models.ChangeLogEntry, error) {
	if _, err := validate.ID("groupId", groupID); err != nil {
		return nil, err
	}
	if _, err := validate.ID("expenseId", expenseID); err != nil {
		return nil, err
	}
	return e.GetUserChangeLogs(ctx, userID, Filter{GroupID: groupID, ExpenseID: expenseID})
}

// MarkGroupAsDeleted flips groupStatus to deleted on every entry of the group.
func (e *Engine) MarkGroupAsDeleted(ctx context.Context, groupID string) (storage.UpdateResult, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	result, err := e.store.SetGroupStatus(ctx, gid, models.GroupDeleted)
	if err != nil {
		return storage.UpdateResult{}, apperr.Persistence(err, "failed to mark group as deleted")
	}
	return result, nil
}

// UpdateVisibleToForGroup overwrites visibleTo on every entry of the group with memberIDs.
// This is a full replace: users missing from memberIDs lose access to the group's history.
func (e *Engine) UpdateVisibleToForGroup(ctx context.Context, groupID string, memberIDs []string) (storage.UpdateResult, error) {
	gid, err := validate.ID("groupId", groupID)
	if err != nil {
		return storage.UpdateResult{}, err
	}
	ids, err := validate.IDList("visibleTo", dedupe(memberIDs))
	if err != nil {
		return storage.UpdateResult{}, err
	}
	result, err := e.store.ReplaceVisibleTo(ctx, gid, ids)
	if err != nil {
		return storage.UpdateResult{}, apperr.Persistence(err, "failed to update change log visibility")
	}
	return result, nil
}
