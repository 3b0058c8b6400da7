package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/changelog"
)

// ActivityService serves change-log history and reconstructions of deleted data.
// Entries are filtered by visibility, so no membership check is needed.
type ActivityService struct {
	changelog *changelog.Engine
	logger    *slog.Logger
}

// NewActivityService creates a new ActivityService.
func NewActivityService(engine *changelog.Engine, logger *slog.Logger) *ActivityService {
	return &ActivityService{changelog: engine, logger: logger}
}

// Routes returns the service's procedures.
func (s *ActivityService) Routes(opts ...connect.HandlerOption) []Route {
	return []Route{
		unary(ActivityServiceName, "ListChangeLogs", s.ListChangeLogs, opts),
		unary(ActivityServiceName, "ReconstructGroup", s.ReconstructGroup, opts),
		unary(ActivityServiceName, "ReconstructExpense", s.ReconstructExpense, opts),
	}
}

// ListChangeLogs returns the entries visible to the caller, newest first.
func (s *ActivityService) ListChangeLogs(ctx context.Context, req *connect.Request[ListChangeLogsRequest]) (*connect.Response[ChangeLogsResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ListChangeLogs request received", "user_id", userID, "group_id", req.Msg.GroupID)

	entries, err := s.changelog.GetUserChangeLogs(ctx, userID, changelog.Filter{
		GroupStatus: req.Msg.GroupStatus,
		Type:        req.Msg.Type,
		GroupID:     req.Msg.GroupID,
		ExpenseID:   req.Msg.ExpenseID,
		Action:      req.Msg.Action,
	})
	if err != nil {
		return nil, fail(s.logger, "ListChangeLogs", err, "user_id", userID)
	}
	return connect.NewResponse(&ChangeLogsResponse{Entries: entries}), nil
}

// ReconstructGroup rebuilds a deleted group from the caller's history.
func (s *ActivityService) ReconstructGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[changelog.Reconstruction], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ReconstructGroup request received", "user_id", userID, "group_id", req.Msg.GroupID)

	rec, err := s.changelog.ReconstructGroup(ctx, userID, req.Msg.GroupID)
	if err != nil {
		return nil, fail(s.logger, "ReconstructGroup", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(rec), nil
}

// ReconstructExpense rebuilds one expense from the caller's history.
func (s *ActivityService) ReconstructExpense(ctx context.Context, req *connect.Request[ExpenseRequest]) (*connect.Response[changelog.ExpenseReconstruction], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ReconstructExpense request received", "user_id", userID, "expense_id", req.Msg.ExpenseID)

	rec, err := s.changelog.ReconstructExpense(ctx, userID, req.Msg.GroupID, req.Msg.ExpenseID)
	if err != nil {
		return nil, fail(s.logger, "ReconstructExpense", err, "expense_id", req.Msg.ExpenseID)
	}
	return connect.NewResponse(rec), nil
}
