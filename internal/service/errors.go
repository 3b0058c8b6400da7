package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/models"
)

var (
	errInternal  = errors.New("internal error")
	errNotMember = errors.New("You are not a member of this group")
)

// toConnectError maps core errors to Connect codes. Persistence failures are
// reported as Internal without their cause.
func toConnectError(err error) *connect.Error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return connect.NewError(connect.CodeUnauthenticated, auth.ErrInvalidCredentials)
	}

	var e *apperr.Error
	if !errors.As(err, &e) {
		return connect.NewError(connect.CodeInternal, errInternal)
	}
	switch e.Kind {
	case apperr.KindInvalidArgument:
		ce := connect.NewError(connect.CodeInvalidArgument, errors.New(e.Message))
		ce.Meta().Set("Error-Field", e.Field)
		ce.Meta().Set("Error-Rule", string(e.Rule))
		return ce
	case apperr.KindNotFound:
		return connect.NewError(connect.CodeNotFound, errors.New(e.Message))
	case apperr.KindConflict:
		return connect.NewError(connect.CodeFailedPrecondition, errors.New(e.Message))
	default:
		return connect.NewError(connect.CodeInternal, errInternal)
	}
}

// fail logs internal failures and converts err for the wire.
func fail(logger *slog.Logger, method string, err error, attrs ...any) error {
	ce := toConnectError(err)
	if ce.Code() == connect.CodeInternal {
		logger.Error(method+" failed", append(attrs, "error", err)...)
	}
	return ce
}

// actorID returns the authenticated user id set by middleware.RequireAuth.
func actorID(ctx context.Context) (string, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	return userID, nil
}

// GroupReader loads groups for authorization checks.
type GroupReader interface {
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
}

// requireMember loads the group and checks that userID belongs to it.
func requireMember(ctx context.Context, groups GroupReader, groupID, userID string) (*models.Group, error) {
	group, err := groups.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(userID) {
		return nil, connect.NewError(connect.CodePermissionDenied, errNotMember)
	}
	return group, nil
}
