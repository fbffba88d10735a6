package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fanstage/fanstage/server/internal/ws"
)

// HubReader is the read side of the hub the API reports on.
type HubReader interface {
	ViewerCount(streamID string) int
	ActiveStreams() []ws.StreamSummary
	Stats() ws.Stats
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	hub    HubReader
	router chi.Router
}

// New creates a Handler wired to hub and registers all routes. Each
// middleware wraps every route, outermost first.
func New(hub HubReader, middlewares ...func(http.Handler) http.Handler) http.Handler {
	h := &Handler{hub: hub, router: chi.NewRouter()}

	h.router.Use(middlewares...)
	h.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	h.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/streams", h.listStreams)
		r.Get("/streams/{streamID}/viewers", h.streamViewers)
		r.Get("/stats", h.stats)
	})

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	st := h.hub.Stats()
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Connections: st.Connections,
		Streams:     len(st.Viewers),
	})
}

// listStreams returns GET /api/v1/streams.
func (h *Handler) listStreams(w http.ResponseWriter, _ *http.Request) {
	streams := h.hub.ActiveStreams()
	out := make([]StreamResponse, 0, len(streams))
	for _, s := range streams {
		out = append(out, StreamResponse{StreamID: s.StreamID, ViewerCount: s.ViewerCount})
	}
	jsonResp(w, http.StatusOK, out)
}

// streamViewers returns GET /api/v1/streams/{streamID}/viewers. A stream
// nobody watches is not an error: it simply has zero viewers.
func (h *Handler) streamViewers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")
	jsonResp(w, http.StatusOK, StreamResponse{
		StreamID:    id,
		ViewerCount: h.hub.ViewerCount(id),
	})
}

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, _ *http.Request) {
	st := h.hub.Stats()

	resp := StatsResponse{
		Connections: st.Connections,
		Streams:     len(st.Viewers),
		Received:    make(map[string]uint64, len(st.Received)),
		Rejected:    make(map[string]uint64, len(st.Rejected)),
		Deliveries: DeliveryStats{
			Sent:    st.Sent,
			Skipped: st.Skipped,
			Dropped: st.Dropped,
		},
	}
	for _, n := range st.Viewers {
		resp.Viewers += n
	}
	for typ, n := range st.Received {
		resp.Received[string(typ)] = n
	}
	for reason, n := range st.Rejected {
		resp.Rejected[reason] = n
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
