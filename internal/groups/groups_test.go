package groups

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/changelog"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/mmynk/splitledger/internal/users"
)

type fixture struct {
	store *sqlite.SQLiteStore
	users *users.Service
	logs  *changelog.Engine
	svc   *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	userSvc := users.NewService(store, logger)
	logs := changelog.NewEngine(store, userSvc)
	return &fixture{
		store: store,
		users: userSvc,
		logs:  logs,
		svc:   NewService(store, userSvc, logs, logger),
	}
}

func (f *fixture) user(t *testing.T, first, username string) *models.User {
	t.Helper()
	u := models.NewUser(first, "Doe", username, "hash")
	require.NoError(t, f.store.CreateUser(context.Background(), u))
	return u
}

func actions(entries []*models.ChangeLogEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func TestCreateGroup(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.user(t, "Alice", "alice")

	t.Run("defaults", func(t *testing.T) {
		g, err := f.svc.CreateGroup(ctx, alice.ID, Details{Name: "  Roommates  "})
		require.NoError(t, err)
		assert.NotEmpty(t, g.ID)
		assert.Equal(t, "Roommates", g.Name)
		assert.Equal(t, "USD", g.Currency)
		assert.Empty(t, g.Members)

		logs, err := f.logs.GetGroupChangeLogsForUser(ctx, alice.ID, g.ID)
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Equal(t, models.ActionGroupCreated, logs[0].Action)
		assert.Equal(t, "Alice Doe", logs[0].PerformedBy.UserName)
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name string
			in   Details
			msg  string
		}{
			{"short name", Details{Name: "Trip"}, "name must be between 5 and 50 characters"},
			{"blank name", Details{Name: "   "}, "name cannot be an empty string or just spaces"},
			{"bad currency", Details{Name: "Vacation", Currency: "XX1"}, "currency is not a valid ISO 4217 code"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.CreateGroup(ctx, alice.ID, tt.in)
				assert.True(t, apperr.IsInvalidArgument(err), "got %v", err)
				assert.EqualError(t, err, tt.msg)
			})
		}
	})

	t.Run("currency is normalized", func(t *testing.T) {
		g, err := f.svc.CreateGroup(ctx, alice.ID, Details{Name: "Euro trip", Currency: "eur"})
		require.NoError(t, err)
		assert.Equal(t, "EUR", g.Currency)
	})
}

func TestMembership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.user(t, "Alice", "alice")
	bob := f.user(t, "Bob", "bob")
	carol := f.user(t, "Carol", "carol")

	g, err := f.svc.CreateGroup(ctx, alice.ID, Details{Name: "Roommates"})
	require.NoError(t, err)
	_, err = f.svc.AddMember(ctx, alice.ID, g.ID, "alice")
	require.NoError(t, err)
	g, err = f.svc.AddMember(ctx, alice.ID, g.ID, "Bob")
	require.NoError(t, err)
	assert.Equal(t, []string{alice.ID, bob.ID}, g.Members)

	t.Run("duplicate member", func(t *testing.T) {
		_, err := f.svc.AddMember(ctx, alice.ID, g.ID, "bob")
		assert.True(t, apperr.IsConflict(err), "got %v", err)
		assert.EqualError(t, err, "User is already a member of this group")
	})

	t.Run("unknown handle", func(t *testing.T) {
		_, err := f.svc.AddMember(ctx, alice.ID, g.ID, "mallory")
		assert.True(t, apperr.IsNotFound(err))
		assert.EqualError(t, err, "User mallory not found")
	})

	t.Run("new member sees only later entries", func(t *testing.T) {
		logs, err := f.logs.GetGroupChangeLogsForUser(ctx, bob.ID, g.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{models.ActionMemberAdded}, actions(logs))
	})

	t.Run("remove member", func(t *testing.T) {
		_, err := f.svc.AddMember(ctx, alice.ID, g.ID, "carol")
		require.NoError(t, err)
		updated, err := f.svc.RemoveMember(ctx, alice.ID, g.ID, carol.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{alice.ID, bob.ID}, updated.Members)

		// The removed member still sees the removal entry.
		logs, err := f.logs.GetGroupChangeLogsForUser(ctx, carol.ID, g.ID)
		require.NoError(t, err)
		require.NotEmpty(t, logs)
		assert.Equal(t, models.ActionMemberRemoved, logs[0].Action)

		var details models.MemberDetails
		require.NoError(t, logs[0].DecodeDetails(&details))
		assert.Equal(t, "Carol Doe", details.UserName)

		_, err = f.svc.RemoveMember(ctx, alice.ID, g.ID, carol.ID)
		assert.True(t, apperr.IsNotFound(err))
		assert.EqualError(t, err, "User is not a member of this group")
	})

	t.Run("sync visibility replaces audiences", func(t *testing.T) {
		result, err := f.svc.SyncChangeLogVisibility(ctx, g.ID)
		require.NoError(t, err)
		assert.Positive(t, result.Matched)

		logs, err := f.logs.GetGroupChangeLogsForUser(ctx, bob.ID, g.ID)
		require.NoError(t, err)
		assert.Contains(t, actions(logs), models.ActionGroupCreated)

		logs, err = f.logs.GetGroupChangeLogsForUser(ctx, carol.ID, g.ID)
		require.NoError(t, err)
		assert.Empty(t, logs)
	})
}

func TestDeleteUserLeavesGroups(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.user(t, "Alice", "alice")
	bob := f.user(t, "Bob", "bob")

	var ids []string
	for _, name := range []string{"Roommates", "Ski weekend"} {
		g, err := f.svc.CreateGroup(ctx, alice.ID, Details{Name: name})
		require.NoError(t, err)
		_, err = f.svc.AddMember(ctx, alice.ID, g.ID, "alice")
		require.NoError(t, err)
		_, err = f.svc.AddMember(ctx, alice.ID, g.ID, "bob")
		require.NoError(t, err)
		ids = append(ids, g.ID)
	}

	require.NoError(t, f.users.DeleteUser(ctx, bob.ID, f.svc))

	for _, id := range ids {
		g, err := f.svc.GetGroup(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, []string{alice.ID}, g.Members)

		logs, err := f.logs.GetGroupChangeLogsForUser(ctx, alice.ID, id)
		require.NoError(t, err)
		require.NotEmpty(t, logs)
		assert.Equal(t, models.ActionMemberRemoved, logs[0].Action)
		assert.Equal(t, "Bob Doe", logs[0].PerformedBy.UserName)

		var details models.MemberDetails
		require.NoError(t, logs[0].DecodeDetails(&details))
		assert.Equal(t, models.MemberDetails{UserID: bob.ID, UserName: "Bob Doe"}, details)
	}

	// Closed accounts cannot be added back by handle.
	_, err := f.svc.AddMember(ctx, alice.ID, ids[0], "bob")
	assert.True(t, apperr.IsNotFound(err))
}

func TestUpdateGroup(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.user(t, "Alice", "alice")
	g, err := f.svc.CreateGroup(ctx, alice.ID, Details{Name: "Roommates"})
	require.NoError(t, err)
	_, err = f.svc.AddMember(ctx, alice.ID, g.ID, "alice")
	require.NoError(t, err)

	updated, err := f.svc.UpdateGroup(ctx, alice.ID, g.ID, Details{Name: "Flatmates", Description: "Flat 4B"})
	require.NoError(t, err)
	assert.Equal(t, "Flatmates", updated.Name)

	// Identical input is not logged.
	_, err = f.svc.UpdateGroup(ctx, alice.ID, g.ID, Details{Name: "Flatmates", Description: "Flat 4B"})
	require.NoError(t, err)

	logs, err := f.logs.GetUserChangeLogs(ctx, alice.ID, changelog.Filter{Action: models.ActionGroupEdited})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "Flatmates", logs[0].GroupName)

	var changes map[string]models.FieldChange
	require.NoError(t, logs[0].DecodeDetails(&changes))
	assert.Equal(t, models.FieldChange{Old: "Roommates", New: "Flatmates"}, changes["name"])
	assert.NotContains(t, changes, "currency")
}

func TestPosts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.user(t, "Alice", "alice")
	g, err := f.svc.CreateGroup(ctx, alice.ID, Details{Name: "Roommates"})
	require.NoError(t, err)
	_, err = f.svc.AddMember(ctx, alice.ID, g.ID, "alice")
	require.NoError(t, err)

	post, err := f.svc.AddPost(ctx, alice.ID, g.ID, "Rent", "Due on the 1st")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, post.PosterID)

	_, err = f.svc.AddPost(ctx, alice.ID, g.ID, "", "body")
	assert.True(t, apperr.IsInvalidArgument(err))

	got, err := f.svc.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, got.Posts, 1)

	removed, err := f.svc.DeletePost(ctx, alice.ID, g.ID, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rent", removed.Title)

	_, err = f.svc.DeletePost(ctx, alice.ID, g.ID, post.ID)
	assert.True(t, apperr.IsNotFound(err))
	assert.EqualError(t, err, "Post not found")
}

func TestDeleteGroup(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := f.user(t, "Alice", "alice")
	bob := f.user(t, "Bob", "bob")

	g, err := f.svc.CreateGroup(ctx, alice.ID, Details{Name: "Ski trip"})
	require.NoError(t, err)
	for _, handle := range []string{"alice", "bob"} {
		_, err = f.svc.AddMember(ctx, alice.ID, g.ID, handle)
		require.NoError(t, err)
	}
	require.NoError(t, f.store.InsertExpense(ctx, &models.Expense{
		GroupID:          g.ID,
		Name:             "Cabin",
		Cost:             decimal.RequireFromString("90.00"),
		Deadline:         "2024-03-01",
		Payee:            alice.ID,
		Payers:           []string{alice.ID, bob.ID},
		DistributionType: models.DistributionEvenly,
	}))
	_, err = f.users.PinGroup(ctx, bob.ID, g.ID)
	require.NoError(t, err)

	ok, err := f.svc.DeleteGroup(ctx, alice.ID, g.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("group is gone", func(t *testing.T) {
		_, err := f.svc.GetGroup(ctx, g.ID)
		assert.True(t, apperr.IsNotFound(err))

		_, err = f.svc.DeleteGroup(ctx, alice.ID, g.ID)
		assert.EqualError(t, err, "Group not found or already deleted")
	})

	t.Run("pins are cleared", func(t *testing.T) {
		u, err := f.users.GetUser(ctx, bob.ID)
		require.NoError(t, err)
		assert.Empty(t, u.PinnedGroups)
	})

	t.Run("history is marked deleted and snapshotted", func(t *testing.T) {
		logs, err := f.logs.GetUserChangeLogs(ctx, bob.ID, changelog.Filter{GroupStatus: models.GroupDeleted})
		require.NoError(t, err)
		require.NotEmpty(t, logs)
		assert.Equal(t, models.ActionGroupDeleted, logs[0].Action)
		for _, e := range logs {
			assert.Equal(t, models.GroupDeleted, e.GroupStatus)
		}

		var snap models.GroupSnapshot
		require.NoError(t, logs[0].DecodeDetails(&snap))
		assert.Equal(t, []string{"Alice Doe", "Bob Doe"}, snap.MemberNames)
		require.Len(t, snap.Expenses, 1)
		assert.Equal(t, "Cabin", snap.Expenses[0].Name)

		active, err := f.logs.GetUserChangeLogs(ctx, bob.ID, changelog.Filter{GroupStatus: models.GroupActive})
		require.NoError(t, err)
		assert.Empty(t, active)
	})

	t.Run("group can be rebuilt", func(t *testing.T) {
		rec, err := f.logs.ReconstructGroup(ctx, bob.ID, g.ID)
		require.NoError(t, err)
		assert.Equal(t, changelog.Authoritative, rec.Confidence)
		assert.Equal(t, "Ski trip", rec.Group.Name)
		require.Len(t, rec.Expenses, 1)
		assert.Equal(t, alice.ID, rec.Expenses[0].PayeeID)
	})
}

func TestCalculateGroupBalances(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CalculateGroupBalances(ctx, "not-an-id")
	assert.True(t, apperr.IsInvalidArgument(err))

	_, err = f.svc.CalculateGroupBalances(ctx, "11111111-1111-1111-1111-111111111111")
	assert.True(t, apperr.IsNotFound(err))
}
