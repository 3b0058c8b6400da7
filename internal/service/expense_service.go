package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/reports"
)

// ExpenseService implements the ExpenseService RPC interface.
type ExpenseService struct {
	groups  GroupReader
	ledger  *ledger.Service
	reports *reports.Service
	logger  *slog.Logger
}

// NewExpenseService creates a new ExpenseService.
func NewExpenseService(groups GroupReader, ledger *ledger.Service, reports *reports.Service, logger *slog.Logger) *ExpenseService {
	return &ExpenseService{groups: groups, ledger: ledger, reports: reports, logger: logger}
}

// Routes returns the service's procedures.
func (s *ExpenseService) Routes(opts ...connect.HandlerOption) []Route {
	return []Route{
		unary(ExpenseServiceName, "CreateExpense", s.CreateExpense, opts),
		unary(ExpenseServiceName, "GetExpense", s.GetExpense, opts),
		unary(ExpenseServiceName, "ListExpenses", s.ListExpenses, opts),
		unary(ExpenseServiceName, "EditExpense", s.EditExpense, opts),
		unary(ExpenseServiceName, "DeleteExpense", s.DeleteExpense, opts),
		unary(ExpenseServiceName, "AddPayment", s.AddPayment, opts),
		unary(ExpenseServiceName, "ArchiveExpense", s.ArchiveExpense, opts),
		unary(ExpenseServiceName, "UnarchiveExpense", s.UnarchiveExpense, opts),
		unary(ExpenseServiceName, "SearchExpenses", s.SearchExpenses, opts),
		unary(ExpenseServiceName, "GetPaymentStats", s.GetPaymentStats, opts),
		unary(ExpenseServiceName, "GetGraphData", s.GetGraphData, opts),
	}
}

// member authenticates the caller and checks membership of groupID.
func (s *ExpenseService) member(ctx context.Context, method, groupID string) (string, error) {
	userID, err := actorID(ctx)
	if err != nil {
		return "", err
	}
	if _, err := requireMember(ctx, s.groups, groupID, userID); err != nil {
		return "", fail(s.logger, method, err, "group_id", groupID)
	}
	return userID, nil
}

func toInput(f ExpenseFields) ledger.ExpenseInput {
	amounts := make([]ledger.AmountInput, len(f.PayerAmounts))
	for i, pa := range f.PayerAmounts {
		amounts[i] = ledger.AmountInput{PayerID: pa.PayerID, Amount: pa.Amount}
	}
	return ledger.ExpenseInput{
		Name:             f.Name,
		Cost:             f.Cost,
		Deadline:         f.Deadline,
		Payee:            f.Payee,
		Payers:           f.Payers,
		DistributionType: f.DistributionType,
		PayerAmounts:     amounts,
		File:             f.File,
	}
}

// CreateExpense adds an expense to a group.
func (s *ExpenseService) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	s.logger.Info("CreateExpense request received", "group_id", req.Msg.GroupID, "name", req.Msg.Name)
	userID, err := s.member(ctx, "CreateExpense", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	expense, err := s.ledger.CreateExpense(ctx, userID, req.Msg.GroupID, toInput(req.Msg.ExpenseFields))
	if err != nil {
		return nil, fail(s.logger, "CreateExpense", err, "group_id", req.Msg.GroupID)
	}
	s.logger.Info("Expense created", "group_id", req.Msg.GroupID, "expense_id", expense.ID)
	return connect.NewResponse(&ExpenseResponse{Expense: expense}), nil
}

// GetExpense returns one expense.
func (s *ExpenseService) GetExpense(ctx context.Context, req *connect.Request[ExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	s.logger.Info("GetExpense request received", "group_id", req.Msg.GroupID, "expense_id", req.Msg.ExpenseID)
	if _, err := s.member(ctx, "GetExpense", req.Msg.GroupID); err != nil {
		return nil, err
	}

	expense, err := s.ledger.GetExpense(ctx, req.Msg.GroupID, req.Msg.ExpenseID)
	if err != nil {
		return nil, fail(s.logger, "GetExpense", err, "expense_id", req.Msg.ExpenseID)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: expense}), nil
}

// ListExpenses returns a group's expenses in creation order.
func (s *ExpenseService) ListExpenses(ctx context.Context, req *connect.Request[ListExpensesRequest]) (*connect.Response[ListExpensesResponse], error) {
	s.logger.Info("ListExpenses request received", "group_id", req.Msg.GroupID, "include_archived", req.Msg.IncludeArchived)
	if _, err := s.member(ctx, "ListExpenses", req.Msg.GroupID); err != nil {
		return nil, err
	}

	expenses, err := s.ledger.ListExpenses(ctx, req.Msg.GroupID, req.Msg.IncludeArchived)
	if err != nil {
		return nil, fail(s.logger, "ListExpenses", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&ListExpensesResponse{Expenses: expenses}), nil
}

// EditExpense replaces an expense's editable fields.
func (s *ExpenseService) EditExpense(ctx context.Context, req *connect.Request[EditExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	s.logger.Info("EditExpense request received", "group_id", req.Msg.GroupID, "expense_id", req.Msg.ExpenseID)
	userID, err := s.member(ctx, "EditExpense", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	expense, err := s.ledger.EditExpense(ctx, userID, req.Msg.GroupID, req.Msg.ExpenseID, toInput(req.Msg.ExpenseFields))
	if err != nil {
		return nil, fail(s.logger, "EditExpense", err, "expense_id", req.Msg.ExpenseID)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: expense}), nil
}

// DeleteExpense removes an expense and returns its last state.
func (s *ExpenseService) DeleteExpense(ctx context.Context, req *connect.Request[ExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	s.logger.Info("DeleteExpense request received", "group_id", req.Msg.GroupID, "expense_id", req.Msg.ExpenseID)
	userID, err := s.member(ctx, "DeleteExpense", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	expense, err := s.ledger.DeleteExpense(ctx, userID, req.Msg.GroupID, req.Msg.ExpenseID)
	if err != nil {
		return nil, fail(s.logger, "DeleteExpense", err, "expense_id", req.Msg.ExpenseID)
	}
	s.logger.Info("Expense deleted", "expense_id", expense.ID)
	return connect.NewResponse(&ExpenseResponse{Expense: expense}), nil
}

// AddPayment records a repayment. The payer defaults to the caller.
func (s *ExpenseService) AddPayment(ctx context.Context, req *connect.Request[AddPaymentRequest]) (*connect.Response[ExpenseResponse], error) {
	s.logger.Info("AddPayment request received", "group_id", req.Msg.GroupID, "expense_id", req.Msg.ExpenseID)
	userID, err := s.member(ctx, "AddPayment", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	payerID := req.Msg.PayerID
	if payerID == "" {
		payerID = userID
	}
	expense, err := s.ledger.AddPayment(ctx, userID, req.Msg.GroupID, req.Msg.ExpenseID, payerID, req.Msg.Amount)
	if err != nil {
		return nil, fail(s.logger, "AddPayment", err, "expense_id", req.Msg.ExpenseID)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: expense}), nil
}

// ArchiveExpense hides an expense from the default listing.
func (s *ExpenseService) ArchiveExpense(ctx context.Context, req *connect.Request[ExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	s.logger.Info("ArchiveExpense request received", "group_id", req.Msg.GroupID, "expense_id", req.Msg.ExpenseID)
	userID, err := s.member(ctx, "ArchiveExpense", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	expense, err := s.ledger.ArchiveExpense(ctx, userID, req.Msg.GroupID, req.Msg.ExpenseID)
	if err != nil {
		return nil, fail(s.logger, "ArchiveExpense", err, "expense_id", req.Msg.ExpenseID)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: expense}), nil
}

// UnarchiveExpense restores an archived expense.
func (s *ExpenseService) UnarchiveExpense(ctx context.Context, req *connect.Request[ExpenseRequest]) (*connect.Response[ExpenseResponse], error) {
	s.logger.Info("UnarchiveExpense request received", "group_id", req.Msg.GroupID, "expense_id", req.Msg.ExpenseID)
	userID, err := s.member(ctx, "UnarchiveExpense", req.Msg.GroupID)
	if err != nil {
		return nil, err
	}

	expense, err := s.ledger.UnarchiveExpense(ctx, userID, req.Msg.GroupID, req.Msg.ExpenseID)
	if err != nil {
		return nil, fail(s.logger, "UnarchiveExpense", err, "expense_id", req.Msg.ExpenseID)
	}
	return connect.NewResponse(&ExpenseResponse{Expense: expense}), nil
}

// SearchExpenses filters and sorts a group's expenses.
func (s *ExpenseService) SearchExpenses(ctx context.Context, req *connect.Request[SearchExpensesRequest]) (*connect.Response[ListExpensesResponse], error) {
	s.logger.Info("SearchExpenses request received", "group_id", req.Msg.GroupID, "text", req.Msg.Text)
	if _, err := s.member(ctx, "SearchExpenses", req.Msg.GroupID); err != nil {
		return nil, err
	}

	m := req.Msg
	expenses, err := s.reports.SearchExpenses(ctx, m.GroupID, reports.Query{
		Text:     m.Text,
		PayeeID:  m.PayeeID,
		PayerID:  m.PayerID,
		From:     m.From,
		To:       m.To,
		Archived: m.Archived,
		MinCost:  m.MinCost,
		MaxCost:  m.MaxCost,
		Sort:     m.Sort,
	})
	if err != nil {
		return nil, fail(s.logger, "SearchExpenses", err, "group_id", m.GroupID)
	}
	return connect.NewResponse(&ListExpensesResponse{Expenses: expenses}), nil
}

// GetPaymentStats returns repayment progress of a group.
func (s *ExpenseService) GetPaymentStats(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[reports.PaymentStats], error) {
	s.logger.Info("GetPaymentStats request received", "group_id", req.Msg.GroupID)
	if _, err := s.member(ctx, "GetPaymentStats", req.Msg.GroupID); err != nil {
		return nil, err
	}

	stats, err := s.reports.PaymentStats(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, fail(s.logger, "GetPaymentStats", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(stats), nil
}

// GetGraphData returns per-member totals and monthly spend of a group.
func (s *ExpenseService) GetGraphData(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[reports.Graph], error) {
	s.logger.Info("GetGraphData request received", "group_id", req.Msg.GroupID)
	if _, err := s.member(ctx, "GetGraphData", req.Msg.GroupID); err != nil {
		return nil, err
	}

	graph, err := s.reports.GraphData(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, fail(s.logger, "GetGraphData", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(graph), nil
}
