// Package api provides HTTP handlers and the main API server logic for
// ZapFlow.
//
// It exposes the inbound webhook that drives the flow engine, plus management
// endpoints for sends, connection sessions, conversations, notifications, and
// campaign enqueueing.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zapflowhq/zapflow/internal/campaign"
	"github.com/zapflowhq/zapflow/internal/flow"
	"github.com/zapflowhq/zapflow/internal/messaging"
	"github.com/zapflowhq/zapflow/internal/models"
	"github.com/zapflowhq/zapflow/internal/store"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":8080"
	// DefaultTokenCacheTTL bounds how long a token-to-connection lookup is
	// served from memory.
	DefaultTokenCacheTTL = time.Minute
	// DefaultRequestTimeout bounds webhook-triggered flow runs.
	DefaultRequestTimeout = 60 * time.Second
)

// SessionClient is the subset of the gateway client the connection
// management endpoints need.
type SessionClient interface {
	Connect(ctx context.Context, conn *models.Connection, events []string) error
	Disconnect(ctx context.Context, conn *models.Connection) error
	QRCode(ctx context.Context, conn *models.Connection) (string, error)
	Status(ctx context.Context, conn *models.Connection) (models.ConnectionStatus, error)
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr          string
	Store         store.Store
	Engine        *flow.Engine
	Sender        messaging.Service
	Dispatcher    *campaign.Dispatcher
	Session       SessionClient
	TokenCacheTTL time.Duration
}

// Option configures Opts.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStore sets the backing store.
func WithStore(st store.Store) Option {
	return func(o *Opts) { o.Store = st }
}

// WithEngine sets the flow engine driven by the webhook.
func WithEngine(e *flow.Engine) Option {
	return func(o *Opts) { o.Engine = e }
}

// WithSender sets the messaging service used by the send endpoint.
func WithSender(sender messaging.Service) Option {
	return func(o *Opts) { o.Sender = sender }
}

// WithDispatcher sets the campaign dispatcher.
func WithDispatcher(d *campaign.Dispatcher) Option {
	return func(o *Opts) { o.Dispatcher = d }
}

// WithSessionClient sets the gateway session client.
func WithSessionClient(sc SessionClient) Option {
	return func(o *Opts) { o.Session = sc }
}

// WithTokenCacheTTL overrides the webhook token cache TTL.
func WithTokenCacheTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TokenCacheTTL = ttl }
}

// Server holds the API server state and its collaborators.
type Server struct {
	addr       string
	store      store.Store
	engine     *flow.Engine
	sender     messaging.Service
	dispatcher *campaign.Dispatcher
	session    SessionClient
	tokenCache *gocache.Cache
	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(options ...Option) (*Server, error) {
	opts := Opts{
		Addr:          DefaultAddr,
		TokenCacheTTL: DefaultTokenCacheTTL,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("flow engine is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("messaging sender is required")
	}

	s := &Server{
		addr:       opts.Addr,
		store:      opts.Store,
		engine:     opts.Engine,
		sender:     opts.Sender,
		dispatcher: opts.Dispatcher,
		session:    opts.Session,
		tokenCache: gocache.New(opts.TokenCacheTTL, 2*opts.TokenCacheTTL),
	}
	return s, nil
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.webhookHandler)
	mux.HandleFunc("POST /send", s.sendHandler)
	mux.HandleFunc("POST /connections/{id}/connect", s.connectionConnectHandler)
	mux.HandleFunc("POST /connections/{id}/disconnect", s.connectionDisconnectHandler)
	mux.HandleFunc("GET /connections/{id}/qr", s.connectionQRHandler)
	mux.HandleFunc("GET /connections/{id}/status", s.connectionStatusHandler)
	mux.HandleFunc("GET /conversations", s.conversationsHandler)
	mux.HandleFunc("GET /notifications", s.notificationsHandler)
	mux.HandleFunc("POST /campaigns", s.campaignsHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("API server shutdown failed: %w", err)
		}
		return nil
	}
}

// connectionByToken resolves a connection from its instance token, serving
// repeat lookups from the cache. Failed lookups are never cached.
func (s *Server) connectionByToken(token string) (*models.Connection, error) {
	if cached, ok := s.tokenCache.Get(token); ok {
		conn := cached.(models.Connection)
		return &conn, nil
	}
	conn, err := s.store.GetConnectionByToken(token)
	if err != nil {
		return nil, err
	}
	if conn != nil {
		s.tokenCache.Set(token, *conn, gocache.DefaultExpiration)
	}
	return conn, nil
}
