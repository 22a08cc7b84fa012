package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/researchledger/internal/orchestrator"
	"github.com/TobiSchelling/researchledger/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// JobRunner starts research jobs; *orchestrator.Orchestrator satisfies it.
type JobRunner interface {
	Run(ctx context.Context, question string) (*orchestrator.Result, error)
}

// Server is the HTTP server for browsing jobs and approving plans.
type Server struct {
	db     *store.DB
	queue  *ApprovalQueue
	runner JobRunner
	pages  map[string]*template.Template
	mux    *http.ServeMux

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Server. runner may be nil, in which case jobs can be
// browsed and approved but not started from the web.
func New(db *store.DB, queue *ApprovalQueue, runner JobRunner) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"usd": func(v float64) string { return fmt.Sprintf("$%.4f", v) },
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "job.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	if queue == nil {
		queue = NewApprovalQueue()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{db: db, queue: queue, runner: runner, pages: pages, mux: http.NewServeMux(), ctx: ctx, cancel: cancel}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Close cancels running jobs and waits for them to stop.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("POST /jobs", s.handleStartJob)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleJob)
	s.mux.HandleFunc("GET /jobs/{id}/ledger.json", s.handleLedgerJSON)
	s.mux.HandleFunc("POST /jobs/{id}/decision", s.handleDecision)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	jobs, err := s.db.ListJobs(50)
	if err != nil {
		zap.S().Errorf("Listing jobs: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Jobs":       jobs,
		"Pending":    s.queue.Pending(),
		"CanStart":   s.runner != nil,
		"MaxRevises": orchestrator.MaxRevisions,
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		http.Error(w, "Starting jobs is disabled", http.StatusForbidden)
		return
	}
	question := strings.TrimSpace(r.FormValue("question"))
	if question == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.runner.Run(s.ctx, question)
		if err != nil {
			zap.S().Errorf("Job failed: %v", err)
			return
		}
		zap.S().Infof("Job %s finished in %s", res.JobID, res.State)
	}()

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.db.GetJob(id)
	if err != nil {
		zap.S().Errorf("Loading job %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	review, pending := s.queue.Get(id)
	if job == nil && !pending {
		http.NotFound(w, r)
		return
	}

	data := map[string]any{
		"ID":      id,
		"Job":     job,
		"Pending": pending,
		"Review":  review,
	}
	if job != nil {
		rows, err := s.db.GetRows(id)
		if err != nil {
			zap.S().Errorf("Loading rows of job %s: %v", id, err)
		}
		decisions, _ := s.db.GetDecisions(id)
		data["Rows"] = rows
		data["Decisions"] = decisions
		if job.Schema != nil {
			data["Columns"] = job.Schema.DynamicNames()
		}
	}
	s.render(w, "job.html", data)
}

func (s *Server) handleLedgerJSON(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.db.GetJob(id)
	if err != nil || job == nil {
		http.NotFound(w, r)
		return
	}
	rows, err := s.db.GetRows(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"job_id":      job.ID,
		"question":    job.Question,
		"state":       job.State,
		"stop_reason": job.StopReason,
		"schema":      job.Schema,
		"cost":        job.Cost,
		"rows":        rows,
	}); err != nil {
		zap.S().Warnf("Writing ledger of job %s: %v", id, err)
	}
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action, ok := orchestrator.ParseAction(r.FormValue("action"))
	if !ok {
		http.Error(w, "Unknown action", http.StatusBadRequest)
		return
	}
	d := orchestrator.Decision{Action: action}
	if action == orchestrator.ActionEdit {
		d.Feedback = strings.TrimSpace(r.FormValue("feedback"))
	}
	if err := s.queue.Decide(id, d); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Redirect(w, r, "/jobs/"+id, http.StatusFound)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		zap.S().Errorf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		zap.S().Errorf("Error rendering template %s: %v", name, err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port and stops it when ctx ends.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{Addr: addr, Handler: srv.Handler()}

	errc := make(chan error, 1)
	go func() {
		zap.S().Infof("Server listening on http://%s", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		srv.Close()
		return err
	case <-ctx.Done():
		srv.Close()
		return hs.Shutdown(context.Background())
	}
}
