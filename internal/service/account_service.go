package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/groups"
	"github.com/mmynk/splitledger/internal/reports"
	"github.com/mmynk/splitledger/internal/users"
)

// AccountService implements profile, pinning and cross-group summary calls.
type AccountService struct {
	users   *users.Service
	groups  *groups.Service
	reports *reports.Service
	logger  *slog.Logger
}

// NewAccountService creates a new AccountService.
func NewAccountService(users *users.Service, groups *groups.Service, reports *reports.Service, logger *slog.Logger) *AccountService {
	return &AccountService{users: users, groups: groups, reports: reports, logger: logger}
}

// Routes returns the service's procedures.
func (s *AccountService) Routes(opts ...connect.HandlerOption) []Route {
	return []Route{
		unary(AccountServiceName, "UpdateProfile", s.UpdateProfile, opts),
		unary(AccountServiceName, "PinGroup", s.PinGroup, opts),
		unary(AccountServiceName, "UnpinGroup", s.UnpinGroup, opts),
		unary(AccountServiceName, "GetSummary", s.GetSummary, opts),
		unary(AccountServiceName, "DeleteAccount", s.DeleteAccount, opts),
	}
}

// UpdateProfile changes the caller's names.
func (s *AccountService) UpdateProfile(ctx context.Context, req *connect.Request[UpdateProfileRequest]) (*connect.Response[UserResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("UpdateProfile request received", "user_id", userID)

	user, err := s.users.UpdateProfile(ctx, userID, req.Msg.FirstName, req.Msg.LastName)
	if err != nil {
		return nil, fail(s.logger, "UpdateProfile", err, "user_id", userID)
	}
	return connect.NewResponse(&UserResponse{User: user}), nil
}

// PinGroup pins a group the caller belongs to.
func (s *AccountService) PinGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[UserResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("PinGroup request received", "user_id", userID, "group_id", req.Msg.GroupID)

	user, err := s.users.PinGroup(ctx, userID, req.Msg.GroupID)
	if err != nil {
		return nil, fail(s.logger, "PinGroup", err, "user_id", userID)
	}
	return connect.NewResponse(&UserResponse{User: user}), nil
}

// UnpinGroup removes a pin.
func (s *AccountService) UnpinGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[UserResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("UnpinGroup request received", "user_id", userID, "group_id", req.Msg.GroupID)

	user, err := s.users.UnpinGroup(ctx, userID, req.Msg.GroupID)
	if err != nil {
		return nil, fail(s.logger, "UnpinGroup", err, "user_id", userID)
	}
	return connect.NewResponse(&UserResponse{User: user}), nil
}

// GetSummary returns the caller's balance across all groups.
func (s *AccountService) GetSummary(ctx context.Context, req *connect.Request[SummaryRequest]) (*connect.Response[reports.UserSummary], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("GetSummary request received", "user_id", userID, "currency", req.Msg.Currency)

	summary, err := s.reports.UserSummary(ctx, userID, req.Msg.Currency)
	if err != nil {
		return nil, fail(s.logger, "GetSummary", err, "user_id", userID)
	}
	return connect.NewResponse(summary), nil
}

// DeleteAccount leaves every group and removes the caller's account.
func (s *AccountService) DeleteAccount(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[Empty], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("DeleteAccount request received", "user_id", userID)

	if err := s.users.DeleteUser(ctx, userID, s.groups); err != nil {
		return nil, fail(s.logger, "DeleteAccount", err, "user_id", userID)
	}
	return connect.NewResponse(&Empty{}), nil
}
