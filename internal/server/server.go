package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/a-essam23/go-converse/internal/api"
	"github.com/a-essam23/go-converse/internal/gateway"
	"github.com/a-essam23/go-converse/internal/identity"
	"github.com/a-essam23/go-converse/internal/metrics"
	"github.com/a-essam23/go-converse/internal/server/middleware"
	"github.com/a-essam23/go-converse/internal/store"
	"github.com/a-essam23/go-converse/pkg/config"
	"github.com/a-essam23/go-converse/pkg/state/statemanager"
	"github.com/a-essam23/go-converse/pkg/transport"
	"github.com/coder/websocket"
)

var errShuttingDown = fmt.Errorf("%w: server shutting down", transport.ErrClosedByServer)

type App struct {
	logger   *slog.Logger
	config   *config.Config
	store    *store.Store
	gateway  *gateway.Gateway
	activity *gateway.ActivityToucher
	metrics  *metrics.Metrics
	http     *http.Server

	// every websocket connection runs under connCtx, not the request context,
	// so shutdown can close them gracefully before cancelling.
	connCtx     context.Context
	cancelConns context.CancelFunc
	wg          sync.WaitGroup

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, st *store.Store) *App {
	m := metrics.New()
	registry := statemanager.NewInMemoryManager(logger)
	verifier := identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, st)
	issuer := identity.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	activity := gateway.NewActivityToucher(logger, st, m, cfg.Activity.QueueSize, cfg.Activity.Timeout)

	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(rootCtx))
	app := &App{
		logger:      logger,
		config:      cfg,
		store:       st,
		gateway:     gateway.New(logger, registry, verifier, st, activity, m),
		activity:    activity,
		metrics:     m,
		connCtx:     connCtx,
		cancelConns: cancelConns,
		ctx:         rootCtx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", app.upgradeHandler)
	mux.HandleFunc("GET /healthz", app.healthHandler)
	mux.Handle("GET /metrics", m.Handler())
	api.New(logger, st, issuer).Mount(mux, middleware.NewAuthMiddleware(logger, verifier))

	handler := middleware.Chain(mux,
		middleware.RequestMetadataMiddleware(),
		middleware.NewRequestLogger(logger),
		middleware.NewRecoverer(logger),
	)
	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app
}

// Handler exposes the full route tree, middleware included.
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

// Run serves until the root context is cancelled, then shuts down.
func (a *App) Run() error {
	a.activity.Start(a.connCtx)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-a.ctx.Done():
		return a.Shutdown()
	case err := <-serveErr:
		a.logger.Error("HTTP server failed", slog.Any("error", err))
		return errors.Join(err, a.Shutdown())
	}
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	var ip string
	if reqMeta, ok := middleware.ReqMetadataFrom(r.Context()); ok {
		ip = reqMeta.IP
	}
	connLogger := a.logger.With(slog.String("remoteAddr", ip))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.config.Server.AllowedOrigins,
	})
	if err != nil {
		connLogger.Warn("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		a.connCtx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout: a.config.Transport.ReadTimeout,
			SendBuffer:  a.config.Transport.SendBuffer,
		},
		a.gateway.HandleMessage,
		a.gateway.HandleClose,
		connLogger,
	)
	// registration must precede the first read
	if err := a.gateway.Register(conn, ip); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.Run()
	<-conn.Done()
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.store.Ping(r.Context()); err != nil {
		a.logger.Error("Health check failed", slog.Any("error", err))
		middleware.WriteError(w, http.StatusServiceUnavailable, "Store unavailable")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": a.gateway.ConnectionCount(),
	})
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	defer a.cancelConns()

	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := a.http.Shutdown(shutdownCtx)

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...", slog.Int("connections", a.gateway.ConnectionCount()))
	a.gateway.CloseAll(errShuttingDown)

	// wait for all connection goroutines to finish their cleanup.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("Connections did not close in time, forcing")
		a.cancelConns()
		<-done
	}

	a.activity.Stop()
	if err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}
