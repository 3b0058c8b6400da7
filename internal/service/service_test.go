package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/changelog"
	"github.com/mmynk/splitledger/internal/currency"
	"github.com/mmynk/splitledger/internal/groups"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/reports"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/mmynk/splitledger/internal/users"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	userSvc := users.NewService(store, logger)
	logs := changelog.NewEngine(store, userSvc)
	reg := prometheus.NewRegistry()

	handler := NewRouter(Deps{
		Authenticator: auth.NewPasswordAuthenticator(store).WithCost(bcrypt.MinCost),
		JWT:           auth.NewJWTManager("test-secret", time.Hour),
		Users:         userSvc,
		Groups:        groups.NewService(store, userSvc, logs, logger),
		Ledger:        ledger.NewService(store, userSvc, logs, logger),
		Reports:       reports.NewService(store, currency.DefaultRates()),
		ChangeLog:     logs,
		Logger:        logger,
		Metrics:       middleware.NewMetrics(reg),
	}, RouterOptions{AllowedOrigins: []string{"*"}, Gatherer: reg})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func call[Req, Res any](t *testing.T, srv *httptest.Server, service, method, token string, msg *Req) (*Res, error) {
	t.Helper()
	client := connect.NewClient[Req, Res](http.DefaultClient, srv.URL+Procedure(service, method), connect.WithCodec(Codec))
	req := connect.NewRequest(msg)
	if token != "" {
		req.Header().Set("Authorization", "Bearer "+token)
	}
	resp, err := client.CallUnary(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func register(t *testing.T, srv *httptest.Server, first, username string) *AuthResponse {
	t.Helper()
	resp, err := call[RegisterRequest, AuthResponse](t, srv, AuthServiceName, "Register", "", &RegisterRequest{
		FirstName: first,
		LastName:  "Doe",
		Username:  username,
		Password:  "password123",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Token)
	return resp
}

func codeOf(t *testing.T, err error) connect.Code {
	t.Helper()
	var ce *connect.Error
	require.True(t, errors.As(err, &ce), "expected connect error, got %v", err)
	return ce.Code()
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := register(t, srv, "Alice", "alice")

	t.Run("duplicate username", func(t *testing.T) {
		_, err := call[RegisterRequest, AuthResponse](t, srv, AuthServiceName, "Register", "", &RegisterRequest{
			FirstName: "Other", LastName: "Doe", Username: "alice", Password: "password123",
		})
		assert.Equal(t, connect.CodeFailedPrecondition, codeOf(t, err))
	})

	t.Run("login", func(t *testing.T) {
		resp, err := call[LoginRequest, AuthResponse](t, srv, AuthServiceName, "Login", "", &LoginRequest{
			Username: "alice", Password: "password123",
		})
		require.NoError(t, err)
		assert.Equal(t, alice.User.ID, resp.User.ID)

		_, err = call[LoginRequest, AuthResponse](t, srv, AuthServiceName, "Login", "", &LoginRequest{
			Username: "alice", Password: "wrong-password",
		})
		assert.Equal(t, connect.CodeUnauthenticated, codeOf(t, err))
	})

	t.Run("current user", func(t *testing.T) {
		resp, err := call[Empty, UserResponse](t, srv, AuthServiceName, "GetCurrentUser", alice.Token, &Empty{})
		require.NoError(t, err)
		assert.Equal(t, "alice", resp.User.Username)

		_, err = call[Empty, UserResponse](t, srv, AuthServiceName, "GetCurrentUser", "", &Empty{})
		assert.Equal(t, connect.CodeUnauthenticated, codeOf(t, err))

		_, err = call[Empty, UserResponse](t, srv, AuthServiceName, "GetCurrentUser", "garbage", &Empty{})
		assert.Equal(t, connect.CodeUnauthenticated, codeOf(t, err))
	})
}

func TestGroupAndExpenseFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := register(t, srv, "Alice", "alice")
	bob := register(t, srv, "Bob", "bob")

	created, err := call[CreateGroupRequest, GroupResponse](t, srv, GroupServiceName, "CreateGroup", alice.Token, &CreateGroupRequest{
		Name: "Road trip", Currency: "usd",
	})
	require.NoError(t, err)
	group := created.Group
	assert.Equal(t, "USD", group.Currency)
	assert.Equal(t, []string{alice.User.ID}, group.Members)

	_, err = call[GroupRequest, GroupResponse](t, srv, GroupServiceName, "GetGroup", bob.Token, &GroupRequest{GroupID: group.ID})
	assert.Equal(t, connect.CodePermissionDenied, codeOf(t, err))

	added, err := call[AddMemberRequest, GroupResponse](t, srv, GroupServiceName, "AddMember", alice.Token, &AddMemberRequest{
		GroupID: group.ID, Username: "bob",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{alice.User.ID, bob.User.ID}, added.Group.Members)

	_, err = call[AddMemberRequest, GroupResponse](t, srv, GroupServiceName, "AddMember", alice.Token, &AddMemberRequest{
		GroupID: group.ID, Username: "bob",
	})
	assert.Equal(t, connect.CodeFailedPrecondition, codeOf(t, err))

	t.Run("invalid cost", func(t *testing.T) {
		_, err := call[CreateExpenseRequest, ExpenseResponse](t, srv, ExpenseServiceName, "CreateExpense", alice.Token, &CreateExpenseRequest{
			GroupID: group.ID,
			ExpenseFields: ExpenseFields{
				Name: "Fuel", Cost: "abc", Deadline: "2026-01-15",
				Payee: alice.User.ID, Payers: []string{alice.User.ID, bob.User.ID},
			},
		})
		var ce *connect.Error
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, connect.CodeInvalidArgument, ce.Code())
		assert.Equal(t, "cost", ce.Meta().Get("Error-Field"))
	})

	expense, err := call[CreateExpenseRequest, ExpenseResponse](t, srv, ExpenseServiceName, "CreateExpense", alice.Token, &CreateExpenseRequest{
		GroupID: group.ID,
		ExpenseFields: ExpenseFields{
			Name: "Fuel", Cost: 60, Deadline: "2026-01-15",
			Payee: alice.User.ID, Payers: []string{alice.User.ID, bob.User.ID},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.DistributionEvenly, expense.Expense.DistributionType)

	balances, err := call[BalancesRequest, BalancesResponse](t, srv, GroupServiceName, "GetBalances", bob.Token, &BalancesRequest{GroupID: group.ID})
	require.NoError(t, err)
	assert.True(t, balances.Balances.Owes(bob.User.ID, alice.User.ID).Equal(decimal.NewFromInt(30)))
	require.Len(t, balances.Settlements, 1)
	assert.Equal(t, bob.User.ID, balances.Settlements[0].FromUserID)

	paid, err := call[AddPaymentRequest, ExpenseResponse](t, srv, ExpenseServiceName, "AddPayment", bob.Token, &AddPaymentRequest{
		GroupID: group.ID, ExpenseID: expense.Expense.ID, Amount: "10",
	})
	require.NoError(t, err)
	assert.True(t, paid.Expense.PaidBy(bob.User.ID).Equal(decimal.NewFromInt(10)))

	_, err = call[AddPaymentRequest, ExpenseResponse](t, srv, ExpenseServiceName, "AddPayment", bob.Token, &AddPaymentRequest{
		GroupID: group.ID, ExpenseID: expense.Expense.ID, Amount: 25,
	})
	assert.Equal(t, connect.CodeFailedPrecondition, codeOf(t, err))

	balances, err = call[BalancesRequest, BalancesResponse](t, srv, GroupServiceName, "GetBalances", bob.Token, &BalancesRequest{
		GroupID: group.ID, Currency: "EUR",
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", balances.Currency)
	assert.True(t, balances.Balances.Owes(bob.User.ID, alice.User.ID).Equal(decimal.RequireFromString("18.40")))

	_, err = call[ExpenseRequest, ExpenseResponse](t, srv, ExpenseServiceName, "GetExpense", alice.Token, &ExpenseRequest{
		GroupID: group.ID, ExpenseID: uuid.NewString(),
	})
	assert.Equal(t, connect.CodeNotFound, codeOf(t, err))

	logs, err := call[ListChangeLogsRequest, ChangeLogsResponse](t, srv, ActivityServiceName, "ListChangeLogs", bob.Token, &ListChangeLogsRequest{
		GroupID: group.ID, Type: models.EntityExpense,
	})
	require.NoError(t, err)
	var acts []string
	for _, e := range logs.Entries {
		acts = append(acts, e.Action)
	}
	assert.Contains(t, acts, models.ActionExpenseCreated)

	deleted, err := call[GroupRequest, DeleteGroupResponse](t, srv, GroupServiceName, "DeleteGroup", alice.Token, &GroupRequest{GroupID: group.ID})
	require.NoError(t, err)
	assert.True(t, deleted.Deleted)

	rec, err := call[GroupRequest, changelog.Reconstruction](t, srv, ActivityServiceName, "ReconstructGroup", bob.Token, &GroupRequest{GroupID: group.ID})
	require.NoError(t, err)
	assert.Equal(t, changelog.Authoritative, rec.Confidence)
	require.Len(t, rec.Expenses, 1)
	assert.Equal(t, "Fuel", rec.Expenses[0].Name)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)
	register(t, srv, "Alice", "alice")

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "splitledger_rpc_requests_total")
}
