// Package server exposes the generation pipeline and run history over a
// small JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/pressroom/internal/article"
	"github.com/TobiSchelling/pressroom/internal/database"
	"github.com/TobiSchelling/pressroom/internal/pipeline"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 50
)

// Generator produces runs from source inputs.
type Generator interface {
	Generate(ctx context.Context, in article.SourceInput) (*pipeline.Run, error)
}

// Server is the HTTP server for the pipeline API.
type Server struct {
	gen Generator
	pub *pipeline.Publisher
	db  *database.DB
	mux *http.ServeMux
}

// New creates a new Server.
func New(gen Generator, pub *pipeline.Publisher, db *database.DB) *Server {
	s := &Server{gen: gen, pub: pub, db: db, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/generate", s.handleGenerate(false))
	s.mux.HandleFunc("POST /api/publish", s.handleGenerate(true))
	s.mux.HandleFunc("POST /api/notify", s.handleNotify)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /api/articles", s.handleArticles)
	s.mux.HandleFunc("GET /api/articles/{slug}", s.handleArticle)
}

// generateRequest is the body of /api/generate and /api/publish.
type generateRequest struct {
	Kind      article.SourceKind `json:"kind"`
	Text      string             `json:"text"`
	Category  string             `json:"category"`
	Keywords  []string           `json:"keywords"`
	URL       string             `json:"url"`
	OriginURL string             `json:"origin_url"`
}

func (r generateRequest) input() article.SourceInput {
	switch r.Kind {
	case article.SourceTopic:
		return article.NewTopic(r.Text, r.Category, r.Keywords)
	case article.SourceURL:
		return article.NewURL(r.URL)
	case article.SourceTranscript:
		return article.NewTranscript(r.Text, r.OriginURL)
	case article.SourceRawText, "":
		return article.NewRawText(r.Text)
	default:
		return article.SourceInput{Kind: r.Kind}
	}
}

type generateResponse struct {
	Run       *pipeline.Run           `json:"run"`
	Summary   pipeline.Summary        `json:"summary"`
	Article   *database.StoredArticle `json:"stored,omitempty"`
	Indexing  *article.IndexingRecord `json:"indexing,omitempty"`
	Published bool                    `json:"published"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(publish bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		in := req.input()

		started := time.Now()
		run, err := s.gen.Generate(r.Context(), in)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, article.ErrEmptySource) || in.Validate() != nil {
				status = http.StatusBadRequest
			} else if s.pub != nil {
				if ferr := s.pub.RecordFailure(uuid.NewString(), in, started, err); ferr != nil {
					log.Printf("Failed to record failed run: %v", ferr)
				}
			}
			writeError(w, status, err)
			return
		}

		resp := generateResponse{Run: run, Summary: run.Report.Summary()}
		if publish {
			if s.pub == nil {
				writeError(w, http.StatusServiceUnavailable, errors.New("publishing is not configured"))
				return
			}
			out, err := s.pub.Publish(r.Context(), run)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			resp.Article = out.Article
			resp.Indexing = &out.Indexing
			resp.Published = true
			resp.Summary = run.Report.Summary()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	if s.pub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("indexing is not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.pub.Notify(r.Context(), nil, req.URL))
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(r.URL.Query().Get("status"), limitParam(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, errors.New("run not found"))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.db.ListArticles(database.ArticleFilter{
		Category: r.URL.Query().Get("category"),
		Limit:    limitParam(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, articles)
}

func (s *Server) handleArticle(w http.ResponseWriter, r *http.Request) {
	a, err := s.db.GetArticleBySlug(r.PathValue("slug"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, errors.New("article not found"))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func limitParam(r *http.Request) uint64 {
	n, err := strconv.ParseUint(r.URL.Query().Get("limit"), 10, 64)
	if err != nil || n == 0 {
		return defaultListLimit
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Serve starts the HTTP server on the given port.
func Serve(gen Generator, pub *pipeline.Publisher, db *database.DB, port int) error {
	srv := New(gen, pub, db)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
