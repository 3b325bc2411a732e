package api

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rendezvous/signal/internal/auth"
)

// NewRouter mounts the probes, metrics, the WebSocket endpoint and the
// key-gated admin API.
func NewRouter(h *Handlers, ws http.HandlerFunc) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readiness", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/health", h.HandleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	if ws != nil {
		mux.HandleFunc("/ws", ws)
	}

	admin := http.NewServeMux()
	admin.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		h.HandleStats(w, r)
	})
	admin.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.HandleCreateRoom(w, r)
		case http.MethodGet:
			h.HandleListRooms(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	admin.HandleFunc("/api/rooms/", func(w http.ResponseWriter, r *http.Request) {
		// /api/rooms/{code} | /close | /events | /api/rooms/_cleanup
		path := strings.TrimSuffix(r.URL.Path, "/")
		const prefix = "/api/rooms/"
		if !strings.HasPrefix(path, prefix) {
			http.NotFound(w, r)
			return
		}
		parts := strings.Split(strings.TrimPrefix(path, prefix), "/")
		if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
			http.NotFound(w, r)
			return
		}
		code := parts[0]
		tail := ""
		if len(parts) > 1 {
			tail = parts[1]
		}

		switch {
		case code == "_cleanup" && tail == "":
			if r.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			h.HandleCleanup(w, r)
		case tail == "close":
			if r.Method != http.MethodPost {
				methodNotAllowed(w)
				return
			}
			h.HandleCloseRoom(w, r, code)
		case tail == "events":
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			h.HandleListEvents(w, r, code)
		case tail == "":
			switch r.Method {
			case http.MethodGet:
				h.HandleGetRoom(w, r, code)
			case http.MethodDelete:
				h.HandleDeleteRoom(w, r, code)
			default:
				methodNotAllowed(w)
			}
		default:
			http.NotFound(w, r)
		}
	})
	mux.Handle("/api/", auth.RequireAPIKey(h.cfg.API.Key, admin))

	return mux
}

func methodNotAllowed(w http.ResponseWriter) {
	writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
}
