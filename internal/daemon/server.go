package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feather-im/feather/internal/config"
	"github.com/feather-im/feather/internal/identity"
	"github.com/feather-im/feather/internal/realtime"
	"github.com/feather-im/feather/internal/session"
	"github.com/feather-im/feather/internal/status"
	"github.com/feather-im/feather/internal/store"
	intsync "github.com/feather-im/feather/internal/sync"
)

// Server serves the daemon's admin API over the session's Unix socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates the admin server bound to the session socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	cfg *config.Config,
	db *store.DB,
	engine *intsync.Engine,
	machine *status.Machine,
	presence *realtime.Presence,
	resolver *identity.Resolver,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync", func(w http.ResponseWriter, r *http.Request) {
		err := engine.Sync(r.Context())
		switch {
		case errors.Is(err, intsync.ErrSyncRunning):
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		case err != nil:
			writeJSON(w, http.StatusBadGateway, map[string]any{"ok": false, "error": err.Error()})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		}
	})
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		lastSync, lastErr := engine.LastResult()
		pending, err := db.PendingCounts()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		cursor, _ := db.LastPulledAt()
		resp := map[string]any{
			"state":           machine.Current(),
			"cursor_ms":       cursor,
			"pending":         pending,
			"last_sync_at":    "",
			"last_sync_error": "",
		}
		if !lastSync.IsZero() {
			resp["last_sync_at"] = lastSync.UTC().Format(time.RFC3339)
		}
		if lastErr != nil {
			resp["last_sync_error"] = lastErr.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("GET /presence", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"online": presence.Online()})
	})
	mux.HandleFunc("POST /chats/direct", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserA string `json:"user_a"`
			UserB string `json:"user_b"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserA == "" || req.UserB == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user_a and user_b required"})
			return
		}
		g, err := resolver.EnsureDirectChat(req.UserA, req.UserB)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":              g.ID,
			"chat_identifier": g.ChatIdentifier,
		})
	})
	mux.HandleFunc("POST /messages/forward", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MessageID string   `json:"message_id"`
			ActorID   string   `json:"actor_id"`
			Targets   []string `json:"targets"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MessageID == "" || len(req.Targets) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "message_id and targets required"})
			return
		}
		if req.ActorID == "" {
			req.ActorID = cfg.Remote.UserID
		}
		copies, err := resolver.Forward(req.MessageID, req.ActorID, req.Targets)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		ids := make([]string, len(copies))
		for i, m := range copies {
			ids[i] = m.ID
		}
		writeJSON(w, http.StatusOK, map[string]any{"forwarded": ids})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Server{
		httpServer: &http.Server{Handler: mux},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("admin server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("admin server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
