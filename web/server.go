// Package web serves the recorder's JSON API.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hostsec/bpf-sentry/capture"
	"github.com/hostsec/bpf-sentry/database"
	"github.com/hostsec/bpf-sentry/sigma"
)

type Server struct {
	logger     *zap.SugaredLogger
	db         *database.DB
	sink       *capture.Sink
	startTimes *capture.StartTimes
	detector   *sigma.Detector // nil when detection is disabled
	listenAddr string
}

func NewServer(logger *zap.SugaredLogger, db *database.DB, sink *capture.Sink,
	startTimes *capture.StartTimes, detector *sigma.Detector, listenAddr string) *Server {
	return &Server{
		logger:     logger,
		db:         db,
		sink:       sink,
		startTimes: startTimes,
		detector:   detector,
		listenAddr: listenAddr,
	}
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/events", s.logged(s.handleEvents))
	mux.HandleFunc("/api/matches", s.logged(s.handleMatches))
	mux.HandleFunc("/api/stats", s.logged(s.handleStats))

	srv := &http.Server{
		Addr:    s.listenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorw("http server shutdown error", "error", err)
		}
	}()

	s.logger.Infow("starting web server", "addr", s.listenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) logged(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debugw("http request", "method", r.Method, "path", r.URL.Path)
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type eventJSON struct {
	ID           int64     `json:"id"`
	WallTime     time.Time `json:"wall_time"`
	Timestamp    uint64    `json:"timestamp_ns"`
	Type         string    `json:"type"`
	PID          uint32    `json:"pid"`
	UID          uint32    `json:"uid"`
	GID          uint32    `json:"gid"`
	Comm         string    `json:"comm"`
	Path         string    `json:"path,omitempty"`
	Flags        string    `json:"flags,omitempty"`
	Mode         uint32    `json:"mode,omitempty"`
	Username     string    `json:"username,omitempty"`
	ExeHash      string    `json:"exe_hash,omitempty"`
	ProcessAgeNs *int64    `json:"process_age_ns,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := database.EventQuery{}
	if v := r.URL.Query().Get("type"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			http.Error(w, "invalid type", http.StatusBadRequest)
			return
		}
		q.EventType = uint32(n)
	}
	if v := r.URL.Query().Get("pid"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			http.Error(w, "invalid pid", http.StatusBadRequest)
			return
		}
		q.PID = uint32(n)
	}
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid since", http.StatusBadRequest)
			return
		}
		q.SinceNs = n
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = n
	}

	records, err := s.db.ListEvents(q)
	if err != nil {
		s.logger.Errorw("event query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	events := make([]eventJSON, 0, len(records))
	for _, rec := range records {
		ev := eventJSON{
			ID:        rec.ID,
			WallTime:  rec.WallTime,
			Timestamp: rec.Timestamp,
			Type:      rec.TypeName,
			PID:       rec.PID,
			UID:       rec.UID,
			GID:       rec.GID,
			Comm:      rec.Comm,
			Path:      rec.Path,
			Mode:      rec.Mode,
			Username:  rec.Username,
			ExeHash:   rec.ExeHash,
		}
		if rec.EventType == capture.EventFileAccess {
			ev.Flags = capture.FlagsString(rec.Flags)
		}
		if rec.ProcessAgeNs.Valid {
			age := rec.ProcessAgeNs.Int64
			ev.ProcessAgeNs = &age
		}
		events = append(events, ev)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	matches, err := s.db.ListMatches(limit)
	if err != nil {
		s.logger.Errorw("match query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []*database.MatchRecord{}
	}
	writeJSON(w, http.StatusOK, matches)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts, err := s.db.CountsByType()
	if err != nil {
		s.logger.Errorw("stats query failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}

	stats := map[string]interface{}{
		"events_by_type":      counts,
		"dropped_events":      s.sink.Dropped(),
		"correlation_entries": s.startTimes.Len(),
	}
	if s.detector != nil {
		stats["sigma_rules"] = s.detector.RuleCount()
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
