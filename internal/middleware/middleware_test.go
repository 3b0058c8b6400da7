package middleware

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/models"
)

type ping struct{}

func TestRequireAuth(t *testing.T) {
	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	token, err := jwtManager.Generate(&models.User{ID: "u-1", Username: "alice"})
	require.NoError(t, err)

	var gotID, gotName string
	next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		gotID, gotName = GetUserID(ctx), GetUsername(ctx)
		return connect.NewResponse(&ping{}), nil
	}
	handler := RequireAuth(jwtManager)(next)

	tests := []struct {
		name   string
		header string
		wantOK bool
	}{
		{"valid", "Bearer " + token, true},
		{"lower-case scheme", "bearer " + token, true},
		{"missing", "", false},
		{"wrong scheme", "Basic " + token, false},
		{"garbage token", "Bearer nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, gotName = "", ""
			req := connect.NewRequest(&ping{})
			if tt.header != "" {
				req.Header().Set("Authorization", tt.header)
			}
			_, err := handler(context.Background(), req)
			if !tt.wantOK {
				assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
				assert.Empty(t, gotID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "u-1", gotID)
			assert.Equal(t, "alice", gotName)
		})
	}
}

func TestLoggingInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := LoggingInterceptor(logger, metrics)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&ping{}), nil
	})
	fail := LoggingInterceptor(logger, metrics)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return nil, connect.NewError(connect.CodeNotFound, nil)
	})

	_, err := ok(context.Background(), connect.NewRequest(&ping{}))
	require.NoError(t, err)
	_, err = fail(context.Background(), connect.NewRequest(&ping{}))
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := make(map[string]float64)
	for _, mf := range families {
		if mf.GetName() != "splitledger_rpc_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "code" {
					counts[label.GetValue()] = m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"ok": 1, "not_found": 1}, counts)

	// nil metrics are allowed
	_, err = LoggingInterceptor(logger, nil)(func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&ping{}), nil
	})(context.Background(), connect.NewRequest(&ping{}))
	assert.NoError(t, err)
}
