package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"schedsync/internal/config"
	appLog "schedsync/internal/log"
	"schedsync/internal/model"
	"schedsync/internal/syncer"
)

// Pipeline is the part of the syncer the HTTP surface drives.
type Pipeline interface {
	Config() *config.Config
	Events(ctx context.Context) ([]model.Event, error)
	Run(ctx context.Context) (syncer.Report, error)
}

// Server exposes feeds, collected events and a manual sync trigger.
type Server struct {
	pipeline Pipeline
	router   chi.Router

	// In-memory cache for /api/events responses to avoid scraping every
	// source on every HTTP request.
	eventsMu    sync.RWMutex
	eventsCache *eventsCache
	eventsTTL   time.Duration
}

// NewServer constructs a new Server.
func NewServer(p Pipeline) *Server {
	s := &Server{
		pipeline:  p,
		router:    chi.NewRouter(),
		eventsTTL: 5 * time.Minute,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.basicAuthMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)
	r.Post("/api/sync", s.handleSync)
	r.Get("/feeds/{team}.ics", s.handleFeed)
	r.Get("/", s.handleIndex)
}

// basicAuthMiddleware enforces HTTP Basic Auth on every endpoint except
// /health when credentials are configured. Config is read per request so
// reloads take effect immediately.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ba := s.pipeline.Config().BasicAuth
		if r.URL.Path == "/health" || ba == nil || ba.Username == "" || ba.Password == "" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, ba.Username) || !secureCompare(p, ba.Password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="schedsync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, listen string, p Pipeline) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           NewServer(p).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+listen)
		errCh <- srv.ListenAndServe()
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
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events      []eventDTO `json:"events"`
	Timezone    string     `json:"timezone"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// eventsCache holds a cached /api/events response and its timestamp.
type eventsCache struct {
	resp      eventsResponse
	updatedAt time.Time
}

// eventDTO is a JSON-friendly view of events.
type eventDTO struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Timezone    string    `json:"timezone"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	SourceURL   string    `json:"source_url,omitempty"`
}

// handleEvents returns the deduplicated future events of every configured
// source. Results are cached briefly.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	s.eventsMu.RLock()
	ec := s.eventsCache
	s.eventsMu.RUnlock()
	if ec != nil && now.Sub(ec.updatedAt) < s.eventsTTL {
		writeJSON(w, http.StatusOK, ec.resp)
		return
	}

	events, err := s.pipeline.Events(r.Context())
	if err != nil {
		appLog.Error("api events: collect failed", err)
		writeError(w, http.StatusBadGateway, "failed to collect events")
		return
	}

	dtos := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		dtos = append(dtos, eventDTO{
			UID:         ev.Fingerprint(),
			Summary:     ev.Summary,
			Start:       ev.Start,
			End:         ev.End,
			Timezone:    ev.Timezone,
			Location:    ev.Location,
			Description: ev.Description,
			SourceURL:   ev.SourceURL,
		})
	}
	resp := eventsResponse{
		Events:      dtos,
		Timezone:    s.pipeline.Config().Timezone,
		GeneratedAt: now,
	}

	// Update in-memory cache for subsequent requests.
	s.eventsMu.Lock()
	s.eventsCache = &eventsCache{resp: resp, updatedAt: now}
	s.eventsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

type syncResponse struct {
	RunID        string `json:"run_id"`
	Events       int    `json:"events"`
	Inserted     int    `json:"inserted"`
	Exists       int    `json:"exists"`
	Seen         int    `json:"seen"`
	Failed       int    `json:"failed"`
	SourceErrors int    `json:"source_errors"`
	Error        string `json:"error,omitempty"`
}

// handleSync runs one pass synchronously and reports its outcome counts.
// The pass is detached from the request so a client disconnect cannot
// abort it after remote inserts and before the ledger is saved.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	rep, err := s.pipeline.Run(context.WithoutCancel(r.Context()))
	resp := syncResponse{
		RunID:        rep.RunID,
		Events:       rep.Events,
		Inserted:     rep.Count(syncer.Inserted),
		Exists:       rep.Count(syncer.SkippedExists),
		Seen:         rep.Count(syncer.SkippedSeen),
		Failed:       rep.Count(syncer.Failed),
		SourceErrors: len(rep.SourceErrors),
	}
	status := http.StatusOK
	if err != nil {
		appLog.Error("api sync failed", err, "run_id", rep.RunID)
		resp.Error = err.Error()
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

// handleFeed serves a generated team feed. Only configured team IDs are
// served, which also keeps the path inside feeds_dir.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	cfg := s.pipeline.Config()
	id := chi.URLParam(r, "team")
	if !hasTeam(cfg, id) {
		http.NotFound(w, r)
		return
	}

	path := syncer.FeedPath(cfg, id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "feed not generated yet")
			return
		}
		appLog.Error("feed stat failed", err, "path", path)
		writeError(w, http.StatusInternalServerError, "feed unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	http.ServeFile(w, r, path)
}

// handleIndex lists subscription links for every configured team.
func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	cfg := s.pipeline.Config()
	feeds := make([]syncer.Feed, 0, len(cfg.Teams))
	for _, t := range cfg.Teams {
		feeds = append(feeds, syncer.Feed{TeamID: t.ID, Name: t.Name})
	}
	page, err := syncer.RenderIndex("/feeds/", feeds)
	if err != nil {
		appLog.Error("render index failed", err)
		writeError(w, http.StatusInternalServerError, "index unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func hasTeam(cfg *config.Config, id string) bool {
	for _, t := range cfg.Teams {
		if t.ID == id {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
