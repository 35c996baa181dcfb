package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/BidRadar/internal/database"
	"github.com/TobiSchelling/BidRadar/internal/metrics"
	"github.com/TobiSchelling/BidRadar/internal/notice"
	"github.com/TobiSchelling/BidRadar/internal/pipeline"
	"github.com/TobiSchelling/BidRadar/internal/progress"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Runner executes one ingestion run.
type Runner interface {
	Ingest(ctx context.Context, o pipeline.Options) pipeline.Summary
}

// Server is the HTTP surface over the opportunity store and the ingestion
// trigger.
type Server struct {
	db       *database.DB
	runner   Runner
	progress *progress.Reporter
	mux      *http.ServeMux
	now      func() time.Time

	mu      sync.Mutex
	running bool
	last    *pipeline.Summary
	done    chan struct{}
}

// New creates a new Server. prog must be the reporter the runner updates.
func New(db *database.DB, runner Runner, prog *progress.Reporter) *Server {
	if prog == nil {
		prog = progress.New()
	}
	s := &Server{
		db:       db,
		runner:   runner,
		progress: prog,
		mux:      http.NewServeMux(),
		now:      time.Now,
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.handle("GET /healthz", s.handleHealth)
	s.handle("GET /api/opportunities", s.handleOpportunities)
	s.handle("GET /api/stats", s.handleStats)
	s.handle("POST /api/refresh", s.handleRefresh)
	s.handle("GET /api/refresh/status", s.handleRefreshStatus)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, metrics.Instrument(pattern, h))
}

func (s *Server) today() string {
	return s.now().Format(notice.DateLayout)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	q := database.Query{
		Search:   strings.TrimSpace(v.Get("q")),
		OpenOnly: truthy(v.Get("open")),
		Today:    s.today(),
	}
	var err error
	if q.Limit, err = intParam(v.Get("limit"), defaultPageSize); err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset, err = intParam(v.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset: "+err.Error())
		return
	}

	items, err := s.db.ListOpportunities(r.Context(), q)
	if err != nil {
		log.Printf("Error listing opportunities: %v", err)
		writeError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	total, err := s.db.CountOpportunities(r.Context(), q)
	if err != nil {
		log.Printf("Error counting opportunities: %v", err)
		writeError(w, http.StatusInternalServerError, "counting failed")
		return
	}
	if items == nil {
		items = []database.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": total, "items": items})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.Stats(r.Context(), s.today())
	if err != nil {
		log.Printf("Error reading stats: %v", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleRefresh starts an ingestion run in the background and answers 202,
// or runs it inline with wait=1 and answers with the summary. A second
// refresh while one is active gets 409.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	limit, err := intParam(v.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit: "+err.Error())
		return
	}
	opts := pipeline.Options{Limit: limit, RulesOnly: truthy(v.Get("rules_only"))}

	done, ok := s.begin()
	if !ok {
		writeError(w, http.StatusConflict, "a refresh is already running")
		return
	}

	if truthy(v.Get("wait")) {
		summary := s.run(r.Context(), opts, done)
		writeJSON(w, http.StatusOK, summary)
		return
	}
	go s.run(context.Background(), opts, done)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	running, last := s.running, s.last
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  running,
		"progress": s.progress.Snapshot(),
		"last":     last,
	})
}

// begin claims the single run slot.
func (s *Server) begin() (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, false
	}
	s.running = true
	s.done = make(chan struct{})
	return s.done, true
}

func (s *Server) run(ctx context.Context, opts pipeline.Options, done chan struct{}) pipeline.Summary {
	summary := s.runner.Ingest(ctx, opts)
	s.mu.Lock()
	s.running = false
	s.last = &summary
	s.mu.Unlock()
	close(done)
	return summary
}

// Wait blocks until the active run, if any, has finished.
func (s *Server) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, s *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on http://%s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		s.Wait()
		return nil
	}
}
