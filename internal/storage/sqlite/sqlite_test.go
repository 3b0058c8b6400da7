package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func createUser(t *testing.T, store *SQLiteStore, first, username string) *models.User {
	t.Helper()
	user := models.NewUser(first, "Tester", username, "hash")
	if err := store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return user
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	alice := createUser(t, store, "Alice", "alice")
	bob := createUser(t, store, "Bob", "bob")

	t.Run("CreateUser generates ID", func(t *testing.T) {
		if alice.ID == "" {
			t.Error("Expected user ID to be generated")
		}
		if alice.SignupDate == 0 {
			t.Error("Expected SignupDate to be set")
		}
	})

	t.Run("duplicate username is a conflict", func(t *testing.T) {
		err := store.CreateUser(ctx, models.NewUser("Other", "Alice", "alice", "hash"))
		assert.True(t, apperr.IsConflict(err), "got %v", err)
	})

	t.Run("lookups", func(t *testing.T) {
		got, err := store.GetUserByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, bob.ID, got.ID)
		assert.Equal(t, "Bob Tester", got.DisplayName())

		_, err = store.GetUserByID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		byID, err := store.GetUsersByIDs(ctx, []string{alice.ID, bob.ID, "missing"})
		require.NoError(t, err)
		assert.Len(t, byID, 2)

		all, err := store.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("update and unpin", func(t *testing.T) {
		alice.PinnedGroups = []string{"g1", "g2"}
		alice.LastLogin = 1700000000
		require.NoError(t, store.UpdateUser(ctx, alice))

		require.NoError(t, store.UnpinGroupForAll(ctx, "g1"))

		got, err := store.GetUserByID(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"g2"}, got.PinnedGroups)
		assert.Equal(t, int64(1700000000), got.LastLogin)
	})

	t.Run("delete keeps the row", func(t *testing.T) {
		require.NoError(t, store.DeleteUser(ctx, bob.ID))
		assert.ErrorIs(t, store.DeleteUser(ctx, bob.ID), storage.ErrNotFound)

		got, err := store.GetUserByID(ctx, bob.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted())
		assert.Equal(t, "Bob", got.FirstName)

		all, err := store.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestGroupsAndExpenses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := &models.Group{Name: "Roommates", Members: []string{"u1", "u2"}}
	require.NoError(t, store.CreateGroup(ctx, group))
	assert.NotEmpty(t, group.ID)
	assert.Equal(t, models.DefaultCurrency, group.Currency)

	t.Run("members keep order and stay unique", func(t *testing.T) {
		added, err := store.AddGroupMember(ctx, group.ID, "u3")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = store.AddGroupMember(ctx, group.ID, "u1")
		require.NoError(t, err)
		assert.False(t, added)

		got, err := store.GetGroup(ctx, group.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"u1", "u2", "u3"}, got.Members)

		groups, err := store.ListGroupsByMember(ctx, "u3")
		require.NoError(t, err)
		require.Len(t, groups, 1)
		assert.Equal(t, group.ID, groups[0].ID)
	})

	expense := &models.Expense{
		GroupID:          group.ID,
		Name:             "Groceries",
		Cost:             decimal.RequireFromString("60.00"),
		Deadline:         "2025-01-31",
		Payee:            "u1",
		Payers:           []string{"u2", "u3"},
		DistributionType: models.DistributionEvenly,
		File:             &models.FileInfo{Name: "receipt.pdf", Path: "uploads/receipt.pdf", MimeType: "application/pdf", Size: 1024},
	}

	t.Run("insert and read back", func(t *testing.T) {
		require.NoError(t, store.InsertExpense(ctx, expense))

		got, err := store.GetGroup(ctx, group.ID)
		require.NoError(t, err)
		require.Contains(t, got.Expenses, expense.ID)
		stored := got.Expenses[expense.ID]
		assert.True(t, stored.Cost.Equal(expense.Cost))
		assert.Equal(t, []string{"u2", "u3"}, stored.Payers)
		assert.Equal(t, "receipt.pdf", stored.File.Name)
		assert.Empty(t, stored.Payments)
	})

	t.Run("update applies fn atomically", func(t *testing.T) {
		updated, err := store.UpdateExpense(ctx, group.ID, expense.ID, func(e *models.Expense) error {
			e.Archived = true
			e.Payments = append(e.Payments, models.Payment{PayerID: "u2", PaidAmount: decimal.NewFromInt(10)})
			return nil
		})
		require.NoError(t, err)
		assert.True(t, updated.Archived)

		sentinel := errors.New("rejected")
		_, err = store.UpdateExpense(ctx, group.ID, expense.ID, func(e *models.Expense) error {
			e.Archived = false
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		got, err := store.GetGroup(ctx, group.ID)
		require.NoError(t, err)
		assert.True(t, got.Expenses[expense.ID].Archived)
		assert.True(t, got.Expenses[expense.ID].PaidBy("u2").Equal(decimal.NewFromInt(10)))

		_, err = store.UpdateExpense(ctx, group.ID, "missing", func(*models.Expense) error { return nil })
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("concurrent payments are not lost", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.UpdateExpense(ctx, group.ID, expense.ID, func(e *models.Expense) error {
					for i := range e.Payments {
						if e.Payments[i].PayerID == "u3" {
							e.Payments[i].PaidAmount = e.Payments[i].PaidAmount.Add(decimal.NewFromInt(1))
							return nil
						}
					}
					e.Payments = append(e.Payments, models.Payment{PayerID: "u3", PaidAmount: decimal.NewFromInt(1)})
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := store.GetGroup(ctx, group.ID)
		require.NoError(t, err)
		assert.True(t, got.Expenses[expense.ID].PaidBy("u3").Equal(decimal.NewFromInt(10)))
	})

	t.Run("posts", func(t *testing.T) {
		post := &models.Post{PosterID: "u1", Title: "Rent", Body: "Due Friday"}
		require.NoError(t, store.InsertPost(ctx, group.ID, post))

		removed, err := store.DeletePost(ctx, group.ID, post.ID)
		require.NoError(t, err)
		assert.Equal(t, "Rent", removed.Title)

		_, err = store.DeletePost(ctx, group.ID, post.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete expense returns it", func(t *testing.T) {
		removed, err := store.DeleteExpense(ctx, group.ID, expense.ID)
		require.NoError(t, err)
		assert.Equal(t, "uploads/receipt.pdf", removed.File.Path)

		_, err = store.DeleteExpense(ctx, group.ID, expense.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("delete group", func(t *testing.T) {
		require.NoError(t, store.DeleteGroup(ctx, group.ID))
		_, err := store.GetGroup(ctx, group.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, store.DeleteGroup(ctx, group.ID), storage.ErrNotFound)
	})
}

func TestChangeLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insert := func(action, groupID string, ts int64, visibleTo ...string) *models.ChangeLogEntry {
		entry := &models.ChangeLogEntry{
			Action:      action,
			Type:        models.EntityGroup,
			GroupID:     groupID,
			GroupName:   "Trip " + groupID,
			VisibleTo:   visibleTo,
			PerformedBy: models.Actor{UserID: "u1", UserName: "Alice Tester"},
			Details:     []byte(`{"name":"Trip"}`),
			Timestamp:   ts,
		}
		require.NoError(t, store.InsertChangeLog(ctx, entry))
		return entry
	}

	first := insert(models.ActionGroupCreated, "g1", 1000, "u1")
	second := insert(models.ActionMemberAdded, "g1", 2000, "u1", "u2")
	insert(models.ActionGroupCreated, "g2", 3000, "u2")

	t.Run("visibility scoped and newest first", func(t *testing.T) {
		got, err := store.FindChangeLogs(ctx, storage.ChangeLogFilter{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, second.ID, got[0].ID)
		assert.Equal(t, first.ID, got[1].ID)
		assert.Equal(t, []string{"u1", "u2"}, got[0].VisibleTo)
		assert.Equal(t, models.GroupActive, got[0].GroupStatus)
		assert.JSONEq(t, `{"name":"Trip"}`, string(got[0].Details))

		got, err = store.FindChangeLogs(ctx, storage.ChangeLogFilter{UserID: "u3"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("filters", func(t *testing.T) {
		got, err := store.FindChangeLogs(ctx, storage.ChangeLogFilter{UserID: "u2", GroupID: "g2"})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		got, err = store.FindChangeLogs(ctx, storage.ChangeLogFilter{UserID: "u1", Action: models.ActionMemberAdded})
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("set group status", func(t *testing.T) {
		result, err := store.SetGroupStatus(ctx, "g1", models.GroupDeleted)
		require.NoError(t, err)
		assert.Equal(t, storage.UpdateResult{Matched: 2, Modified: 2}, result)

		result, err = store.SetGroupStatus(ctx, "g1", models.GroupDeleted)
		require.NoError(t, err)
		assert.Equal(t, storage.UpdateResult{Matched: 2, Modified: 0}, result)

		got, err := store.FindChangeLogs(ctx, storage.ChangeLogFilter{UserID: "u1", GroupStatus: models.GroupDeleted})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("replace visibility", func(t *testing.T) {
		result, err := store.ReplaceVisibleTo(ctx, "g1", []string{"u1", "u2"})
		require.NoError(t, err)
		assert.Equal(t, storage.UpdateResult{Matched: 2, Modified: 1}, result)

		got, err := store.FindChangeLogs(ctx, storage.ChangeLogFilter{UserID: "u2", GroupID: "g1"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})
}
