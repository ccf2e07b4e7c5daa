package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"cdpchain/core/events"
	"cdpchain/crypto"
	"cdpchain/native/bank"
	nativecommon "cdpchain/native/common"
	nativeoracle "cdpchain/native/oracle"
	"cdpchain/native/token"
	"cdpchain/native/vault"
	"cdpchain/observability"
	"cdpchain/services/vaultd/storage"
)

const metricsModule = "vaultd"

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	Auth            AuthConfig
	RateLimit       RateLimit
	OracleOwner     crypto.Address
	Pair            string
	ShutdownTimeout time.Duration
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Engine *vault.Engine
	Ledger *token.Ledger
	Bank   *bank.Bank
	Feed   *nativeoracle.Feed
	Pauses *nativecommon.PauseSet
	Store  *storage.Storage
	Bus    *events.Bus
	Logger *slog.Logger
}

// Server hosts the vault API, the event stream and operational endpoints.
type Server struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	vaults  *observability.VaultMetrics
	handler http.Handler
}

// New constructs a new HTTP server.
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Engine == nil:
		return nil, fmt.Errorf("vault engine required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("debt ledger required")
	case deps.Bank == nil:
		return nil, fmt.Errorf("collateral bank required")
	case deps.Feed == nil:
		return nil, fmt.Errorf("price feed required")
	case deps.Pauses == nil:
		return nil, fmt.Errorf("pause set required")
	case deps.Store == nil:
		return nil, fmt.Errorf("storage required")
	case deps.Bus == nil:
		return nil, fmt.Errorf("event bus required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		vaults:  observability.Vault(),
	}
	s.handler = otelhttp.NewHandler(s.routes(), "vaultd")
	return s, nil
}

// Handler exposes the instrumented router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.requestID)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Use(s.limiter.Middleware(metricsModule))

		v.Get("/vaults/{account}", s.instrument("vault.info", s.handleVaultInfo))
		v.Get("/vaults/{account}/ratio", s.instrument("vault.ratio", s.handleRatio))
		v.Get("/vaults/{account}/profit", s.instrument("vault.profit", s.handleProfit))
		v.Post("/vaults/ratios", s.instrument("vault.ratios", s.handleBatchRatios))
		v.Get("/owners", s.instrument("owners", s.handleOwners))
		v.Get("/liquidatable", s.instrument("liquidatable", s.handleLiquidatable))
		v.Get("/liquidatable/riskiest", s.instrument("liquidatable.riskiest", s.handleRiskiest))
		v.Get("/status", s.instrument("status", s.handleStatus))
		v.Get("/token/{account}", s.instrument("token.balance", s.handleBalance))
		v.Get("/events", s.instrument("events.list", s.handleEvents))
		v.Get("/events/ws", s.handleEventsWS)

		v.Group(func(a chi.Router) {
			a.Use(s.auth.Middleware())
			a.Post("/vaults/open", s.instrument("vault.open", s.handleOpen))
			a.Post("/vaults/mint", s.instrument("vault.mint", s.handleMint))
			a.Post("/vaults/repay", s.instrument("vault.repay", s.handleRepay))
			a.Post("/vaults/remove", s.instrument("vault.remove", s.handleRemove))
			a.Post("/vaults/liquidate", s.instrument("vault.liquidate", s.handleLiquidate))
			a.Post("/vaults/claim", s.instrument("vault.claim", s.handleClaim))
			a.Post("/token/approve", s.instrument("token.approve", s.handleApprove))
			a.Post("/token/transfer", s.instrument("token.transfer", s.handleTransfer))
		})

		v.Group(func(a chi.Router) {
			a.Use(s.auth.Middleware(ScopeAdmin))
			a.Post("/admin/price", s.instrument("admin.price", s.handleSetPrice))
			a.Post("/admin/pause", s.instrument("admin.pause", s.handlePause))
		})
	})
	return r
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

type requestIDKey struct{}

// RequestIDFromContext returns the identifier assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(method string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(recorder, r)
		elapsed := time.Since(start)
		observability.ModuleMetrics().Observe(metricsModule, method, recorder.status, elapsed)
		s.logger.Debug("request served",
			"request_id", RequestIDFromContext(r.Context()),
			"method", method,
			"status", recorder.status,
			"duration", elapsed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail writes err using the domain status mapping, logging server faults.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		s.logger.Error("request failed", "request_id", RequestIDFromContext(r.Context()), "error", err)
	}
	writeError(w, status, err)
}

// recordTotals refreshes the solvency gauges after a state change.
func (s *Server) recordTotals() {
	status, err := s.deps.Engine.SystemStatus()
	if err != nil {
		return
	}
	s.vaults.RecordTotals(status.TotalCollateral, status.TotalDebt, status.TotalParked, status.Ratio)
	s.vaults.SetPause(status.Paused)
}
