package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pairlink/pairlink/internal/config"
	"github.com/pairlink/pairlink/internal/signaling"
)

// Banner is served on GET /.
const Banner = "pairlink rendezvous server"

// Health is the body of GET /health.
type Health struct {
	Status    string    `json:"status"`
	Rooms     int       `json:"rooms"`
	Timestamp time.Time `json:"timestamp"`
}

// RoomStatus is the body of GET /rooms/{roomID}.
type RoomStatus struct {
	Participants int  `json:"participants"`
	IsFull       bool `json:"isFull"`
}

// NewRouter wires the websocket endpoint and the operational HTTP surface.
// gatherer may be nil, in which case /metrics is not mounted.
func NewRouter(hub *signaling.Hub, cfg config.Server, gatherer prometheus.Gatherer, log zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ServeWs(hub, cfg, log))
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(Banner))
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, Health{Status: "healthy", Rooms: hub.Rooms().Len(), Timestamp: time.Now().UTC()})
	})
	mux.HandleFunc("GET /rooms/{roomID}", func(w http.ResponseWriter, r *http.Request) {
		count, full := hub.Rooms().Lookup(r.PathValue("roomID"))
		writeJSON(w, RoomStatus{Participants: count, IsFull: full})
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return cors(cfg.AllowedOrigins, mux)
}

// ServeWs upgrades the request and hands the connection to hub.
func ServeWs(hub *signaling.Hub, cfg config.Server, log zerolog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := signaling.NewClient(hub, conn)
		if !hub.Register(client) {
			conn.Close()
			return
		}
		go client.WritePump()
		go client.ReadPump()
	}
}

// originAllowed accepts everything when no origins are configured. Entries
// may name a full origin or just a host.
func originAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" || slices.Contains(allowed, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
			return true
		}
	}
	return false
}

func cors(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && originAllowed(allowed, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
