package reports

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/currency"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const (
	u1 = "11111111-1111-1111-1111-111111111111"
	u2 = "22222222-2222-2222-2222-222222222222"
	u3 = "33333333-3333-3333-3333-333333333333"
)

type fixture struct {
	store *sqlite.SQLiteStore
	svc   *Service
	group *models.Group
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for i, id := range []string{u1, u2, u3} {
		u := models.NewUser("User", string(rune('A'+i)), "user"+string(rune('a'+i)), "hash")
		u.ID = id
		require.NoError(t, store.CreateUser(ctx, u))
	}
	group := &models.Group{Name: "Road trip", Currency: "USD", Members: []string{u1, u2, u3}}
	require.NoError(t, store.CreateGroup(ctx, group))

	f := &fixture{store: store, svc: NewService(store, currency.DefaultRates()), group: group}
	f.expense(t, &models.Expense{
		Name: "Gas", Cost: d("60.00"), Deadline: "2024-01-15", Payee: u1,
		Payers: []string{u2, u3}, DistributionType: models.DistributionEvenly,
		Payments: []models.Payment{{PayerID: u2, PaidAmount: d("30")}},
		CreatedAt: 100,
	})
	f.expense(t, &models.Expense{
		Name: "Motel", Cost: d("90.00"), Deadline: "2024-01-20", Payee: u2,
		Payers: []string{u1, u2, u3}, DistributionType: models.DistributionEvenly,
		CreatedAt: 200,
	})
	f.expense(t, &models.Expense{
		Name: "gas refill", Cost: d("40.00"), Deadline: "2024-02-03", Payee: u3,
		Payers: []string{u1, u2}, DistributionType: models.DistributionSpecific,
		PayerAmounts: []models.PayerAmount{{PayerID: u1, Amount: d("10")}, {PayerID: u2, Amount: d("30")}},
		Archived:     true,
		CreatedAt:    300,
	})
	return f
}

func (f *fixture) expense(t *testing.T, e *models.Expense) {
	t.Helper()
	e.GroupID = f.group.ID
	require.NoError(t, f.store.InsertExpense(context.Background(), e))
}

func TestGraphData(t *testing.T) {
	f := setup(t)

	got, err := f.svc.GraphData(context.Background(), f.group.ID)
	require.NoError(t, err)

	want := &Graph{
		Members: []MemberTotals{
			{UserID: u1, Fronted: d("60"), Owed: d("40"), Paid: d("0")},
			{UserID: u2, Fronted: d("90"), Owed: d("60"), Paid: d("30")},
			{UserID: u3, Fronted: d("40"), Owed: d("60"), Paid: d("0")},
		},
		Monthly: []MonthlySpend{
			{Month: "2024-01", Total: d("150")},
			{Month: "2024-02", Total: d("40")},
		},
	}
	if diff := cmp.Diff(want, got, decimalEqual); diff != "" {
		t.Errorf("GraphData mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchExpenses(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	yes, no := true, false

	names := func(es []*models.Expense) []string {
		out := make([]string, 0, len(es))
		for _, e := range es {
			out = append(out, e.Name)
		}
		return out
	}

	tests := []struct {
		name  string
		query Query
		want  []string
	}{
		{"everything by creation", Query{}, []string{"Gas", "Motel", "gas refill"}},
		{"text ignores case", Query{Text: "GAS"}, []string{"Gas", "gas refill"}},
		{"payee", Query{PayeeID: u2}, []string{"Motel"}},
		{"payer", Query{PayerID: u3}, []string{"Gas", "Motel"}},
		{"date range", Query{From: "2024-01-16", To: "2024-02-28"}, []string{"Motel", "gas refill"}},
		{"archived only", Query{Archived: &yes}, []string{"gas refill"}},
		{"active only", Query{Archived: &no}, []string{"Gas", "Motel"}},
		{"cost bounds", Query{MinCost: 50, MaxCost: "89.99"}, []string{"Gas"}},
		{"cost descending", Query{Sort: "-cost"}, []string{"Motel", "Gas", "gas refill"}},
		{"name", Query{Sort: "name"}, []string{"Gas", "gas refill", "Motel"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.SearchExpenses(ctx, f.group.ID, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}

	t.Run("invalid sort", func(t *testing.T) {
		_, err := f.svc.SearchExpenses(ctx, f.group.ID, Query{Sort: "payee"})
		assert.True(t, apperr.IsInvalidArgument(err))
	})

	t.Run("invalid date", func(t *testing.T) {
		_, err := f.svc.SearchExpenses(ctx, f.group.ID, Query{From: "yesterday"})
		assert.True(t, apperr.IsInvalidArgument(err))
	})
}

func TestPaymentStats(t *testing.T) {
	f := setup(t)

	got, err := f.svc.PaymentStats(context.Background(), f.group.ID)
	require.NoError(t, err)

	want := &PaymentStats{
		Expenses: []ExpenseProgress{
			{ExpenseID: got.Expenses[0].ExpenseID, Name: "Gas", Owed: d("60"), Paid: d("30"), Percent: d("50")},
			{ExpenseID: got.Expenses[1].ExpenseID, Name: "Motel", Owed: d("60"), Paid: d("0"), Percent: d("0")},
			{ExpenseID: got.Expenses[2].ExpenseID, Name: "gas refill", Owed: d("40"), Paid: d("0"), Percent: d("0")},
		},
		Payers: []PayerProgress{
			{UserID: u1, Owed: d("40"), Paid: d("0"), Remaining: d("40")},
			{UserID: u2, Owed: d("60"), Paid: d("30"), Remaining: d("30")},
			{UserID: u3, Owed: d("60"), Paid: d("0"), Remaining: d("60")},
		},
	}
	if diff := cmp.Diff(want, got, decimalEqual); diff != "" {
		t.Errorf("PaymentStats mismatch (-want +got):\n%s", diff)
	}
}

func TestUserSummary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	euro := &models.Group{Name: "Paris", Currency: "EUR", Members: []string{u1, u2}}
	require.NoError(t, f.store.CreateGroup(ctx, euro))
	require.NoError(t, f.store.InsertExpense(ctx, &models.Expense{
		GroupID: euro.ID, Name: "Museum", Cost: d("9.20"), Deadline: "2024-03-01",
		Payee: u1, Payers: []string{u2}, DistributionType: models.DistributionEvenly,
	}))

	got, err := f.svc.UserSummary(ctx, u1, "usd")
	require.NoError(t, err)
	assert.Equal(t, "USD", got.Currency)
	require.Len(t, got.Groups, 2)

	byName := make(map[string]GroupSummary)
	for _, g := range got.Groups {
		byName[g.Name] = g
	}
	paris := byName["Paris"]
	assert.Equal(t, "EUR", paris.Currency)
	assert.True(t, paris.OwedToUser.Equal(d("9.20")))
	assert.True(t, paris.Converted.Equal(d("10")), "9.20 EUR is 10 USD, got %s", paris.Converted)

	// Road trip after payments and netting: u3 owes u1 20, u1 owes u2 30.
	trip := byName["Road trip"]
	assert.True(t, trip.OwedToUser.Equal(d("20")), "got %s", trip.OwedToUser)
	assert.True(t, trip.OwedByUser.Equal(d("30")), "got %s", trip.OwedByUser)
	assert.True(t, trip.Converted.Equal(d("-10")), "got %s", trip.Converted)

	assert.True(t, got.TotalOwedToUser.Equal(d("30")), "got %s", got.TotalOwedToUser)
	assert.True(t, got.TotalOwedByUser.Equal(d("30")), "got %s", got.TotalOwedByUser)
	assert.True(t, got.Net.IsZero(), "got %s", got.Net)

	_, err = f.svc.UserSummary(ctx, u1, "???")
	assert.True(t, apperr.IsInvalidArgument(err))
}

func TestConvertBalances(t *testing.T) {
	f := setup(t)
	b := calculator.Balances{u2: {u1: d("92")}}

	got, err := f.svc.ConvertBalances(b, "EUR", "USD")
	require.NoError(t, err)
	assert.True(t, got.Owes(u2, u1).Equal(d("100")))

	_, err = f.svc.ConvertBalances(b, "EUR", "SEK")
	assert.True(t, apperr.IsNotFound(err))
}
