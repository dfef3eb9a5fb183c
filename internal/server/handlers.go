package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cmux-cli/sandsync/internal/remote"
	"github.com/cmux-cli/sandsync/internal/sync"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.registry.Sessions()),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.version)
}

func (s *Server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": s.registry.Sessions(),
	})
}

type startSessionRequest struct {
	LocalPath  string `json:"local_path"`
	WorkerURL  string `json:"worker_url"`
	Token      string `json:"token"`
	RemoteRoot string `json:"remote_root"`
	DebounceMS int    `json:"debounce_ms"`
}

func (s *Server) handleStartSession(
	w http.ResponseWriter, r *http.Request,
) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LocalPath == "" {
		writeError(w, http.StatusBadRequest, "local_path is required")
		return
	}

	workerURL := req.WorkerURL
	token := req.Token
	if workerURL == "" {
		workerURL = s.cfg.WorkerURL
		token = s.cfg.WorkerToken
	}
	if workerURL == "" {
		writeError(w, http.StatusBadRequest,
			"worker_url is required (no default configured)")
		return
	}

	remoteRoot := req.RemoteRoot
	if remoteRoot == "" {
		remoteRoot = s.cfg.RemoteRoot
	}
	debounce := s.cfg.Debounce
	if req.DebounceMS > 0 {
		debounce = time.Duration(req.DebounceMS) * time.Millisecond
	}

	err := s.registry.Start(sync.StartOptions{
		LocalRoot:  req.LocalPath,
		Remote:     remote.Handle{WorkerURL: workerURL, Token: token},
		RemoteRoot: remoteRoot,
		Debounce:   debounce,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"sessions": s.registry.Sessions(),
	})
}

func (s *Server) handleStopSession(
	w http.ResponseWriter, r *http.Request,
) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest,
			"path query parameter is required")
		return
	}
	if err := s.registry.Stop(path); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleListFlushes(
	w http.ResponseWriter, r *http.Request,
) {
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented,
			"flush history is disabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.journal.Recent(
		r.URL.Query().Get("workspace"), limit,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flushes": entries})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented,
			"flush history is disabled")
		return
	}
	stats, err := s.journal.Totals()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
