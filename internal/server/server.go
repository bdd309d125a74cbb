package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"photosweep/internal/issues"
	"photosweep/internal/models"
	"photosweep/internal/scan"
	"photosweep/internal/source"
	"photosweep/internal/storage"
	libsync "photosweep/internal/sync"
)

var errBusy = errors.New("a scan or clean is already running")

//go:embed static/*
var staticFiles embed.FS

// pathResolver is implemented by sources backed by local files
type pathResolver interface {
	Path(id string) (string, bool)
}

// Server exposes the cache over HTTP and streams scan passes over a websocket
type Server struct {
	cache   *storage.Cache
	src     source.AssetSource
	syncer  *libsync.Coordinator
	orch    *scan.Orchestrator
	options func(models.ScanMode) models.ScanOptions
	logger  zerolog.Logger

	// writer is held by whoever mutates the cache: a sync plus its scan
	// pass, or a clean
	writer sync.Mutex

	addr        string
	idleTimeout time.Duration
	httpServer  *http.Server
	upgrader    websocket.Upgrader

	// Idle timeout management
	mu            sync.Mutex
	lastActivity  time.Time
	activeClients int
	shutdownChan  chan struct{}
	shutdownOnce  sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithIdleTimeout shuts the server down after d without activity. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.idleTimeout = d
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server. options builds the scan options for each pass.
func New(cache *storage.Cache, src source.AssetSource, syncer *libsync.Coordinator, orch *scan.Orchestrator,
	options func(models.ScanMode) models.ScanOptions, opts ...Option) *Server {
	s := &Server{
		cache:        cache,
		src:          src,
		syncer:       syncer,
		orch:         orch,
		options:      options,
		logger:       zerolog.Nop(),
		addr:         "127.0.0.1:8080",
		lastActivity: time.Now(),
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/result", s.handleResult)
	mux.HandleFunc("GET /api/groups", s.handleGroups)
	mux.HandleFunc("GET /api/issues", s.handleIssues)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/clean", s.handleClean)
	mux.HandleFunc("GET /api/photo", s.handlePhoto)

	// WebSocket for scan streaming and connection monitoring
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Static files
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("/", http.FileServer(http.FS(staticFS)))

	return mux
}

// Start serves until ctx is done or the idle timeout fires
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.idleTimeout > 0 {
		go s.idleTimeoutChecker()
	}

	go func() {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("shutting down server")
		case <-s.shutdownChan:
			s.logger.Info().Dur("idle_timeout", s.idleTimeout).Msg("idle timeout reached, shutting down server")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) idleTimeoutChecker() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			// Connected clients keep the server alive
			if s.activeClients > 0 {
				s.lastActivity = time.Now()
				s.mu.Unlock()
				continue
			}

			idle := time.Since(s.lastActivity)
			s.mu.Unlock()

			if idle >= s.idleTimeout {
				s.shutdownOnce.Do(func() { close(s.shutdownChan) })
				return
			}
		case <-s.shutdownChan:
			return
		}
	}
}

func (s *Server) recordActivity() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// API Handlers

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.recordActivity()

	result, err := s.cache.LastResult(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "no completed scan", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if v := r.URL.Query().Get("min_mb"); v != "" {
		mb, err := strconv.ParseInt(v, 10, 64)
		if err != nil || mb < 0 {
			http.Error(w, "invalid min_mb", http.StatusBadRequest)
			return
		}
		result = result.FilterLargeFiles(mb * issues.MB)
	}

	writeJSON(w, result)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	s.recordActivity()

	groups, err := s.cache.DuplicateGroups(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}

	writeJSON(w, groups)
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	s.recordActivity()

	found, err := s.cache.Issues(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	kind := models.IssueKind(r.URL.Query().Get("kind"))
	out := make([]models.Issue, 0, len(found))
	for _, issue := range found {
		if kind == "" || issue.Kind == kind {
			out = append(out, issue)
		}
	}

	writeJSON(w, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.recordActivity()

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	history, err := s.cache.History(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []storage.HistoryEntry{}
	}

	writeJSON(w, history)
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	s.recordActivity()

	var req struct {
		GroupIDs []string `json:"group_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !s.writer.TryLock() {
		http.Error(w, errBusy.Error(), http.StatusConflict)
		return
	}
	defer s.writer.Unlock()

	groups, err := s.cache.DuplicateGroups(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	wanted := make(map[string]bool, len(req.GroupIDs))
	for _, id := range req.GroupIDs {
		wanted[id] = true
	}
	var selected []models.DuplicateGroup
	for _, g := range groups {
		if wanted[g.ID] {
			selected = append(selected, g)
		}
	}

	report, err := scan.Clean(r.Context(), s.src, s.cache, selected)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	failed := make(map[string]string, len(report.Failed))
	for id, ferr := range report.Failed {
		failed[id] = ferr.Error()
	}

	s.logger.Info().
		Int("deleted", len(report.Deleted)).
		Int("failed", len(failed)).
		Msg("cleaned duplicates")

	writeJSON(w, map[string]any{
		"deleted":     report.Deleted,
		"failed":      failed,
		"skipped":     report.Skipped,
		"freed_bytes": report.FreedBytes,
	})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	s.recordActivity()

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id required", http.StatusBadRequest)
		return
	}

	if resolver, ok := s.src.(pathResolver); ok {
		path, found := resolver.Path(id)
		if !found {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
		return
	}

	rc, err := s.src.ReadResource(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer rc.Close()
	io.Copy(w, rc)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
