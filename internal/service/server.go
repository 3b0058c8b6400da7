package service

import (
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/changelog"
	"github.com/mmynk/splitledger/internal/groups"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/reports"
	"github.com/mmynk/splitledger/internal/users"
)

// Deps are the core services exposed over RPC.
type Deps struct {
	Authenticator auth.Authenticator
	JWT           *auth.JWTManager
	Users         *users.Service
	Groups        *groups.Service
	Ledger        *ledger.Service
	Reports       *reports.Service
	ChangeLog     *changelog.Engine
	Logger        *slog.Logger
	// Metrics may be nil.
	Metrics *middleware.Metrics
}

// Routes builds every procedure. Only Register, Login and Logout skip authentication.
func Routes(d Deps) [][]Route {
	logging := middleware.LoggingInterceptor(d.Logger, d.Metrics)
	public := []connect.HandlerOption{connect.WithInterceptors(logging)}
	private := []connect.HandlerOption{connect.WithInterceptors(middleware.RequireAuth(d.JWT), logging)}

	return [][]Route{
		NewAuthService(d.Authenticator, d.JWT, d.Users, d.Logger).Routes(public, private),
		NewAccountService(d.Users, d.Groups, d.Reports, d.Logger).Routes(private...),
		NewGroupService(d.Groups, d.Reports, d.Logger).Routes(private...),
		NewExpenseService(d.Groups, d.Ledger, d.Reports, d.Logger).Routes(private...),
		NewActivityService(d.ChangeLog, d.Logger).Routes(private...),
	}
}

// RouterOptions configure NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
}

// NewRouter mounts every procedure on a chi router with CORS, request IDs,
// panic recovery, /healthz and optionally /metrics.
func NewRouter(d Deps, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"POST", "GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms"},
		ExposedHeaders:   []string{"Connect-Protocol-Version", "Connect-Timeout-Ms", "Error-Field", "Error-Rule"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	Mount(r, Routes(d)...)
	return r
}
