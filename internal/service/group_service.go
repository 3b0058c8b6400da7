package service

import (
	"context"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/calculator"
	"github.com/mmynk/splitledger/internal/currency"
	"github.com/mmynk/splitledger/internal/groups"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/reports"
)

// GroupService implements the GroupService RPC interface.
type GroupService struct {
	groups  *groups.Service
	reports *reports.Service
	logger  *slog.Logger
}

// NewGroupService creates a new GroupService.
func NewGroupService(groups *groups.Service, reports *reports.Service, logger *slog.Logger) *GroupService {
	return &GroupService{groups: groups, reports: reports, logger: logger}
}

// Routes returns the service's procedures.
func (s *GroupService) Routes(opts ...connect.HandlerOption) []Route {
	return []Route{
		unary(GroupServiceName, "CreateGroup", s.CreateGroup, opts),
		unary(GroupServiceName, "GetGroup", s.GetGroup, opts),
		unary(GroupServiceName, "ListGroups", s.ListGroups, opts),
		unary(GroupServiceName, "UpdateGroup", s.UpdateGroup, opts),
		unary(GroupServiceName, "AddMember", s.AddMember, opts),
		unary(GroupServiceName, "RemoveMember", s.RemoveMember, opts),
		unary(GroupServiceName, "DeleteGroup", s.DeleteGroup, opts),
		unary(GroupServiceName, "GetBalances", s.GetBalances, opts),
		unary(GroupServiceName, "SyncVisibility", s.SyncVisibility, opts),
		unary(GroupServiceName, "AddPost", s.AddPost, opts),
		unary(GroupServiceName, "DeletePost", s.DeletePost, opts),
	}
}

// CreateGroup creates a group with the caller as its first member.
func (s *GroupService) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[GroupResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("CreateGroup request received", "user_id", userID, "name", req.Msg.Name)

	group, err := s.groups.CreateGroup(ctx, userID, groups.Details{
		Name:        req.Msg.Name,
		Description: req.Msg.Description,
		Currency:    req.Msg.Currency,
	})
	if err != nil {
		return nil, fail(s.logger, "CreateGroup", err, "user_id", userID)
	}

	groupID := group.ID
	group, err = s.groups.AddMember(ctx, userID, groupID, middleware.GetUsername(ctx))
	if err != nil {
		return nil, fail(s.logger, "CreateGroup", err, "group_id", groupID)
	}

	s.logger.Info("Group created", "group_id", groupID)
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// GetGroup returns a group the caller belongs to.
func (s *GroupService) GetGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[GroupResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("GetGroup request received", "group_id", req.Msg.GroupID)

	group, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID)
	if err != nil {
		return nil, fail(s.logger, "GetGroup", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// ListGroups returns the caller's groups, newest first.
func (s *GroupService) ListGroups(ctx context.Context, req *connect.Request[Empty]) (*connect.Response[ListGroupsResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("ListGroups request received", "user_id", userID)

	list, err := s.groups.ListGroupsForUser(ctx, userID)
	if err != nil {
		return nil, fail(s.logger, "ListGroups", err, "user_id", userID)
	}
	s.logger.Info("Groups listed", "count", len(list))
	return connect.NewResponse(&ListGroupsResponse{Groups: list}), nil
}

// UpdateGroup changes name, description and currency.
func (s *GroupService) UpdateGroup(ctx context.Context, req *connect.Request[UpdateGroupRequest]) (*connect.Response[GroupResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("UpdateGroup request received", "group_id", req.Msg.GroupID)

	if _, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID); err != nil {
		return nil, fail(s.logger, "UpdateGroup", err, "group_id", req.Msg.GroupID)
	}
	group, err := s.groups.UpdateGroup(ctx, userID, req.Msg.GroupID, groups.Details{
		Name:        req.Msg.Name,
		Description: req.Msg.Description,
		Currency:    req.Msg.Currency,
	})
	if err != nil {
		return nil, fail(s.logger, "UpdateGroup", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// AddMember adds a user by login handle.
func (s *GroupService) AddMember(ctx context.Context, req *connect.Request[AddMemberRequest]) (*connect.Response[GroupResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("AddMember request received", "group_id", req.Msg.GroupID, "username", req.Msg.Username)

	if _, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID); err != nil {
		return nil, fail(s.logger, "AddMember", err, "group_id", req.Msg.GroupID)
	}
	group, err := s.groups.AddMember(ctx, userID, req.Msg.GroupID, req.Msg.Username)
	if err != nil {
		return nil, fail(s.logger, "AddMember", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// RemoveMember removes a member. Members may remove themselves.
func (s *GroupService) RemoveMember(ctx context.Context, req *connect.Request[RemoveMemberRequest]) (*connect.Response[GroupResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("RemoveMember request received", "group_id", req.Msg.GroupID, "member_id", req.Msg.UserID)

	if _, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID); err != nil {
		return nil, fail(s.logger, "RemoveMember", err, "group_id", req.Msg.GroupID)
	}
	group, err := s.groups.RemoveMember(ctx, userID, req.Msg.GroupID, req.Msg.UserID)
	if err != nil {
		return nil, fail(s.logger, "RemoveMember", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&GroupResponse{Group: group}), nil
}

// DeleteGroup snapshots and deletes a group.
func (s *GroupService) DeleteGroup(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[DeleteGroupResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("DeleteGroup request received", "group_id", req.Msg.GroupID)

	if _, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID); err != nil {
		return nil, fail(s.logger, "DeleteGroup", err, "group_id", req.Msg.GroupID)
	}
	deleted, err := s.groups.DeleteGroup(ctx, userID, req.Msg.GroupID)
	if err != nil {
		return nil, fail(s.logger, "DeleteGroup", err, "group_id", req.Msg.GroupID)
	}
	s.logger.Info("Group deleted", "group_id", req.Msg.GroupID)
	return connect.NewResponse(&DeleteGroupResponse{Deleted: deleted}), nil
}

// GetBalances returns netted balances, per-member totals and a settlement plan.
// When a currency other than the group's is requested, amounts are converted first.
func (s *GroupService) GetBalances(ctx context.Context, req *connect.Request[BalancesRequest]) (*connect.Response[BalancesResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("GetBalances request received", "group_id", req.Msg.GroupID, "currency", req.Msg.Currency)

	group, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID)
	if err != nil {
		return nil, fail(s.logger, "GetBalances", err, "group_id", req.Msg.GroupID)
	}
	balances, err := s.groups.CalculateGroupBalances(ctx, group.ID)
	if err != nil {
		return nil, fail(s.logger, "GetBalances", err, "group_id", group.ID)
	}

	cur := group.Currency
	if req.Msg.Currency != "" {
		target, err := currency.Normalize(req.Msg.Currency)
		if err != nil {
			return nil, fail(s.logger, "GetBalances", err)
		}
		if target != cur {
			if balances, err = s.reports.ConvertBalances(balances, cur, target); err != nil {
				return nil, fail(s.logger, "GetBalances", err, "group_id", group.ID)
			}
			cur = target
		}
	}

	return connect.NewResponse(&BalancesResponse{
		Currency:    cur,
		Balances:    balances,
		Members:     calculator.Summarize(balances),
		Settlements: calculator.SettleUp(balances),
	}), nil
}

// SyncVisibility rewrites the audience of the group's change-log entries to the current members.
func (s *GroupService) SyncVisibility(ctx context.Context, req *connect.Request[GroupRequest]) (*connect.Response[UpdateResultResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("SyncVisibility request received", "group_id", req.Msg.GroupID)

	if _, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID); err != nil {
		return nil, fail(s.logger, "SyncVisibility", err, "group_id", req.Msg.GroupID)
	}
	result, err := s.groups.SyncChangeLogVisibility(ctx, req.Msg.GroupID)
	if err != nil {
		return nil, fail(s.logger, "SyncVisibility", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&UpdateResultResponse{Result: result}), nil
}

// AddPost adds a note to the group board.
func (s *GroupService) AddPost(ctx context.Context, req *connect.Request[AddPostRequest]) (*connect.Response[PostResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("AddPost request received", "group_id", req.Msg.GroupID)

	if _, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID); err != nil {
		return nil, fail(s.logger, "AddPost", err, "group_id", req.Msg.GroupID)
	}
	post, err := s.groups.AddPost(ctx, userID, req.Msg.GroupID, req.Msg.Title, req.Msg.Body)
	if err != nil {
		return nil, fail(s.logger, "AddPost", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&PostResponse{Post: post}), nil
}

// DeletePost removes a note from the group board.
func (s *GroupService) DeletePost(ctx context.Context, req *connect.Request[DeletePostRequest]) (*connect.Response[PostResponse], error) {
	userID, err := actorID(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Info("DeletePost request received", "group_id", req.Msg.GroupID, "post_id", req.Msg.PostID)

	if _, err := requireMember(ctx, s.groups, req.Msg.GroupID, userID); err != nil {
		return nil, fail(s.logger, "DeletePost", err, "group_id", req.Msg.GroupID)
	}
	post, err := s.groups.DeletePost(ctx, userID, req.Msg.GroupID, req.Msg.PostID)
	if err != nil {
		return nil, fail(s.logger, "DeletePost", err, "group_id", req.Msg.GroupID)
	}
	return connect.NewResponse(&PostResponse{Post: post}), nil
}
