// Package gateway provides the operational HTTP API of notesbot: health,
// channel status, live sessions and the dispatch log.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/notesbot/pkg/notesbot/bot"
	"github.com/jholhewres/notesbot/pkg/notesbot/config"
	"github.com/jholhewres/notesbot/pkg/notesbot/store"
)

// DispatchLog reads the recorded dispatches.
type DispatchLog interface {
	RecentDispatches(ctx context.Context, channel string, limit int) ([]store.DispatchEntry, error)
}

// Deps are the runtime objects the gateway reports on.
type Deps struct {
	Name        string
	Sessions    *bot.SessionStore
	Supervisors []*bot.Supervisor
	Dispatches  DispatchLog // optional
}

// Gateway is the operational HTTP server.
type Gateway struct {
	deps      Deps
	config    config.GatewayConfig
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a Gateway.
func New(cfg config.GatewayConfig, deps Deps, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = config.DefaultGatewayAddress
	}
	return &Gateway{
		deps:      deps,
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		startedAt: time.Now(),
	}
}

// Handler returns the full middleware-wrapped router.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health (always public)
	mux.HandleFunc("/health", g.handleHealth)

	mux.HandleFunc("/api/status", g.handleStatus)
	mux.HandleFunc("/api/sessions", g.handleListSessions)
	mux.HandleFunc("/api/sessions/", g.handleSessionByKey)
	mux.HandleFunc("/api/dispatches", g.handleDispatches)

	return g.securityHeadersMiddleware(g.corsMiddleware(g.authMiddleware(mux)))
}

// Start listens in the background. The listener is opened synchronously so
// a bad address is reported to the caller.
func (g *Gateway) Start(_ context.Context) error {
	g.startedAt = time.Now()

	if g.config.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.config.Address)
		ip := net.ParseIP(host)
		if host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			g.logger.Warn("gateway has no auth token and is bound to a non-loopback address",
				"address", g.config.Address)
		}
	}

	ln, err := net.Listen("tcp", g.config.Address)
	if err != nil {
		return err
	}
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}
