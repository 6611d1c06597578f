package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/streamwatch/db"
)

// StatusStore is the read-model slice of db.Store the API serves from.
type StatusStore interface {
	LiveNow(ctx context.Context) ([]db.LiveEntry, error)
	RecentSessions(ctx context.Context, limit int) ([]db.SessionEntry, error)
}

// GatewayState reports whether the chat gateway connection is established.
type GatewayState interface {
	Ready() bool
}

// Handlers holds the dependencies for HTTP endpoints.
type Handlers struct {
	db      *sql.DB
	store   StatusStore
	gateway GatewayState
}

func NewHandlers(database *sql.DB, store StatusStore, gateway GatewayState) *Handlers {
	return &Handlers{db: database, store: store, gateway: gateway}
}

// HandleLive returns the streamers currently observed live.
func (h *Handlers) HandleLive(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.LiveNow(r.Context())
	if err != nil {
		slog.Error("live query failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"live": entries, "count": len(entries)})
}

// HandleSessions returns recent stream sessions, newest first. Accepts an
// optional ?limit= query parameter.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := h.store.RecentSessions(r.Context(), limit)
	if err != nil {
		slog.Error("sessions query failed", slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"sessions": entries, "count": len(entries)})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", slog.Any("err", err))
	}
}
