// Package apihttp is the thin JSON control surface over the session: torrent
// lifecycle endpoints, health, metrics, and a WebSocket event feed.
package apihttp

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
	"torrentd/internal/session"
)

type Server struct {
	session *session.Supervisor
	logger  *slog.Logger
	hub     *wsHub

	corsAllowedOrigins []string
}

func NewServer(sup *session.Supervisor, corsAllowedOrigins []string, logger *slog.Logger) *Server {
	s := &Server{
		session:            sup,
		logger:             logger,
		hub:                newWSHub(logger),
		corsAllowedOrigins: corsAllowedOrigins,
	}
	go s.hub.run()

	sup.Subscribe(func(ev session.Event) {
		s.hub.broadcastEvent(ev.Name(), ev.Payload())
	})
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/torrents", s.handleTorrents)
	mux.HandleFunc("/api/torrents/", s.handleTorrentByHash)
	mux.HandleFunc("/api/session/pause", s.handleSessionPause)
	mux.HandleFunc("/api/session/resume", s.handleSessionResume)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	var h http.Handler = mux
	h = metricsMiddleware(h)
	h = loggingMiddleware(s.logger, h)
	h = corsMiddleware(s.corsAllowedOrigins, h)
	h = recoveryMiddleware(s.logger, h)
	return otelhttp.NewHandler(h, "torrentd.http")
}

func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.session.Statuses())
	case http.MethodPost:
		s.handleAddTorrent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

type addTorrentRequest struct {
	Magnet   string `json:"magnet"`
	Metainfo string `json:"metainfo"` // base64-encoded .torrent file
	Name     string `json:"name"`
	SavePath string `json:"savePath"`
	Paused   bool   `json:"paused"`
}

func (s *Server) handleAddTorrent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 16<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body unreadable")
		return
	}
	var req addTorrentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "request body is not valid JSON")
		return
	}
	if req.Magnet == "" && req.Metainfo == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "either magnet or metainfo is required")
		return
	}

	params := &engine.AddTorrentParams{
		Name:       req.Name,
		SavePath:   req.SavePath,
		Magnet:     req.Magnet,
		Paused:     req.Paused,
		ClientData: &domain.ClientData{},
	}
	if req.Metainfo != "" {
		info, err := base64.StdEncoding.DecodeString(req.Metainfo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "metainfo is not valid base64")
			return
		}
		params.InfoBytes = info
	}

	hash := s.session.AddTorrent(params)
	if hash.IsZero() {
		writeError(w, http.StatusUnprocessableEntity, "engine_error", "engine rejected the torrent")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"infoHash": hash})
}

// handleTorrentByHash routes /api/torrents/{hash}[/{action}].
func (s *Server) handleTorrentByHash(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/torrents/")
	hashKey, action, _ := strings.Cut(rest, "/")
	if hashKey == "" {
		writeError(w, http.StatusNotFound, "not_found", "torrent not found")
		return
	}
	hash := hashFromKey(hashKey)

	if r.Method == http.MethodGet && action == "" {
		status, err := s.session.Status(hash)
		if err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}
	if r.Method == http.MethodDelete && action == "" {
		removeData := r.URL.Query().Get("removeData") == "true"
		if err := s.session.Remove(hash, removeData); err != nil {
			writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var err error
	switch action {
	case "pause":
		err = s.session.PauseTorrent(hash)
	case "resume":
		err = s.session.ResumeTorrent(hash)
	case "recheck":
		err = s.session.Recheck(hash)
	case "move":
		var req struct {
			Path string `json:"path"`
		}
		if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil || req.Path == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "path is required")
			return
		}
		err = s.session.MoveStorage(hash, req.Path)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown action")
		return
	}
	if err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSessionPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	s.session.Pause()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSessionResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	s.session.Resume()
	w.WriteHeader(http.StatusAccepted)
}

func hashFromKey(key string) domain.InfoHash {
	if len(key) == 64 {
		return domain.InfoHash{V2: key}
	}
	return domain.InfoHash{V1: key}
}
