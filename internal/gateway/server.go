package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentwire/internal/session"
)

// Server owns the WebSocket endpoint, the session store, and the message
// router. Sessions are created on connect and destroyed on disconnect;
// across sessions execution is fully parallel.
type Server struct {
	addr     string
	store    *session.Store
	router   *Router
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

func NewServer(addr string) *Server {
	return &Server{
		addr:   addr,
		store:  session.NewStore(),
		router: NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser peers connect from arbitrary origins; auth is the
			// deployment's concern (reverse proxy or token middleware).
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Use registers plugins. Must be called before ListenAndServe.
func (s *Server) Use(plugins ...Plugin) error {
	for _, p := range plugins {
		if err := p.RegisterHandlers(s.router); err != nil {
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		slog.Info("plugin registered", "plugin", p.Name())
	}
	return nil
}

// Sessions exposes the session store (tests and introspection).
func (s *Server) Sessions() *session.Store { return s.store }

// ServeHTTP upgrades one connection and runs its client until disconnect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	connectionID := uuid.NewString()
	sess := s.store.Create(connectionID)
	client := newClient(conn, s, sess)
	slog.Info("client connected", "client", connectionID, "remote", r.RemoteAddr)

	client.run(r.Context())

	s.store.Destroy(connectionID)
	slog.Info("client disconnected", "client", connectionID)
}

// ListenAndServe blocks serving the WebSocket endpoint until ctx ends,
// then drains with a bounded shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	s.httpSrv = &http.Server{Addr: s.addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("gateway listening", "addr", s.addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
