// Package httpapi is the thin transport glue SPEC_FULL.md §6 keeps in
// scope: the duplex upgrade endpoint (SPEC_FULL.md §4.6) and a small set of
// mutation/query endpoints fronting the Mutation Orchestrator, Journal, and
// Ticket Authority. Generic request routing, body validation, and
// authentication middleware stay interfaces (AuthContext, AuthResolver) for
// an external caller to implement, per spec.md §1's explicit non-goal.
// Grounded on internal/server/server.go's http.ServeMux + method+pattern
// routing, csrfProtect-style middleware chaining, and graceful shutdown.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arbiterlabs/specd/internal/fanout"
	"github.com/arbiterlabs/specd/internal/journal"
	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/obs"
	"github.com/arbiterlabs/specd/internal/orchestrator"
	"github.com/arbiterlabs/specd/internal/ticket"
)

// AuthContext is httpapi's view of the (out-of-scope) authentication
// middleware's output; it is the same shape model.AuthContext declares,
// repeated here so this package's public surface doesn't force callers to
// import internal/model just to implement it.
type AuthContext = model.AuthContext

// AuthResolver extracts an AuthContext from an inbound request. The
// default resolver this package ships (AllowAllResolver) trusts an
// identity header and grants access to every project — real deployments
// are expected to replace it with one backed by actual authentication,
// per spec.md §1's non-goal.
type AuthResolver func(r *http.Request) (AuthContext, error)

// Config configures a Server.
type Config struct {
	Addr            string
	RateLimit       RateLimitConfig
	AuthResolver    AuthResolver
	TicketScopes    []model.TicketScope // scopes granted to every issued ticket in this deployment
	DefaultTicketTTL time.Duration
}

// Server is specd's HTTP/duplex transport boundary.
type Server struct {
	cfg          Config
	orchestrator *orchestrator.Orchestrator
	journal      *journal.Journal
	tickets      *ticket.Authority
	fabric       *fanout.Fabric
	metrics      *obs.Metrics
	logger       *zap.Logger

	upgrader websocket.Upgrader
	limiter  *Limiter

	httpSrv *http.Server
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New builds a Server wired to the given components. Call ListenAndServe
// to start it, or Handler() to mount it inside another process's mux.
func New(cfg Config, o *orchestrator.Orchestrator, j *journal.Journal, t *ticket.Authority, f *fanout.Fabric, metrics *obs.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AuthResolver == nil {
		cfg.AuthResolver = AllowAllResolver
	}
	if cfg.DefaultTicketTTL <= 0 {
		cfg.DefaultTicketTTL = 30 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          cfg,
		orchestrator: o,
		journal:      j,
		tickets:      t,
		fabric:       f,
		metrics:      metrics,
		logger:       logger,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		limiter:      NewLimiter(cfg.RateLimit),
		baseCtx:      ctx,
		cancel:       cancel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/projects/{projectId}/fragments", s.handleUpsertFragment)
	mux.HandleFunc("GET /v1/projects/{projectId}/events", s.handleListEvents)
	mux.HandleFunc("POST /v1/projects/{projectId}/head", s.handleSetHead)
	mux.HandleFunc("POST /v1/projects/{projectId}/revert", s.handleRevert)
	mux.HandleFunc("POST /v1/tickets", s.handleIssueTicket)

	s.httpSrv = &http.Server{
		Handler:      s.rateLimited(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the duplex endpoint needs no write deadline
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	return s
}

// Handler returns the Server's http.Handler, for embedding in another
// process's listener instead of calling ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe starts the server and blocks until a shutdown signal or
// an unrecoverable listener error.
func (s *Server) ListenAndServe() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		s.Shutdown()
	}()

	s.logger.Info("httpapi listening", zap.String("addr", s.cfg.Addr))
	s.httpSrv.Addr = s.cfg.Addr
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests and closes the fabric.
func (s *Server) Shutdown() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = s.httpSrv.Shutdown(shutdownCtx)
	s.fabric.Close()
	s.cancel()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.fabric.ConnectionCount(),
	})
}
