// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"repo-docs-service/internal/genai"
	"repo-docs-service/internal/github"
	"repo-docs-service/internal/ingest"
	"repo-docs-service/internal/model"
	"repo-docs-service/internal/store"
)

// Ingestor is the orchestration surface the API depends on. Kept as an
// interface so handler tests can mock it.
type Ingestor interface {
	LinkRepository(ctx context.Context, userID, projectID, rawURL, branch, token string) (model.RepositoryLink, error)
	GetLink(ctx context.Context, userID, projectID string) (model.RepositoryLink, error)
	Disconnect(ctx context.Context, userID, projectID string) error
	GenerateDocumentation(ctx context.Context, userID, projectID string) (model.Documentation, *github.FetchReport, error)
	GetDocumentation(ctx context.Context, userID, projectID string) (model.Documentation, error)
	FetchCommits(ctx context.Context, userID, projectID string, limit int) ([]model.CommitSummary, error)
	CachedCommits(ctx context.Context, userID, projectID string) ([]model.CommitSummary, error)
	SummarizeCommit(ctx context.Context, userID, projectID, hash string) (string, error)
	AskQuestion(ctx context.Context, userID, projectID, question string) (model.QAExchange, error)
	GenerateFAQ(ctx context.Context, userID, projectID string) (string, error)
	AnalyzeCodeQuality(ctx context.Context, userID, projectID string) (string, error)
}

// Handler is the container for API dependencies.
type Handler struct {
	db       store.Querier
	ingestor Ingestor
	logger   *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db store.Querier, ingestor Ingestor, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:       db,
		ingestor: ingestor,
		logger:   logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1/projects/{projectID}", func(r chi.Router) {
		r.Use(h.requireSession)

		r.Post("/repository/link", h.linkRepository)
		r.Get("/repository", h.getRepository)
		r.Delete("/repository", h.disconnectRepository)

		r.Post("/documentation/generate", h.generateDocumentation)
		r.Get("/documentation", h.getDocumentation)

		r.Post("/commits/fetch", h.fetchCommits)
		r.Get("/commits/cached", h.cachedCommits)
		r.Post("/commits/summarize", h.summarizeCommit)

		r.Post("/qa/ask", h.askQuestion)
		r.Post("/faq", h.generateFAQ)
		r.Post("/quality", h.analyzeCodeQuality)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// linkRepository connects a project to a GitHub repository.
// POST /v1/projects/{projectID}/repository/link
func (h *Handler) linkRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GithubURL   string `json:"github_url"`
		Branch      string `json:"branch"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.GithubURL) == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'github_url' field")
		return
	}

	link, err := h.ingestor.LinkRepository(r.Context(), userID(r.Context()),
		chi.URLParam(r, "projectID"), req.GithubURL, req.Branch, req.AccessToken)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, link)
}

// getRepository returns the project's repository link.
// GET /v1/projects/{projectID}/repository
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	link, err := h.ingestor.GetLink(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, link)
}

// disconnectRepository removes the link. Documentation and cached commits are
// retained.
// DELETE /v1/projects/{projectID}/repository
func (h *Handler) disconnectRepository(w http.ResponseWriter, r *http.Request) {
	if err := h.ingestor.Disconnect(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID")); err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// generateDocumentation runs the full ingestion and generation pipeline.
// POST /v1/projects/{projectID}/documentation/generate
func (h *Handler) generateDocumentation(w http.ResponseWriter, r *http.Request) {
	doc, report, err := h.ingestor.GenerateDocumentation(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"documentation": doc,
		"report":        report,
	})
}

// getDocumentation returns the stored documentation record.
// GET /v1/projects/{projectID}/documentation
func (h *Handler) getDocumentation(w http.ResponseWriter, r *http.Request) {
	doc, err := h.ingestor.GetDocumentation(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, doc)
}

// fetchCommits pulls fresh commit history from GitHub.
// POST /v1/projects/{projectID}/commits/fetch
func (h *Handler) fetchCommits(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Limit < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' field")
		return
	}

	commits, err := h.ingestor.FetchCommits(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"), req.Limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, commits)
}

// cachedCommits serves the locally mirrored commit set.
// GET /v1/projects/{projectID}/commits/cached
func (h *Handler) cachedCommits(w http.ResponseWriter, r *http.Request) {
	commits, err := h.ingestor.CachedCommits(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	if commits == nil {
		commits = []model.CommitSummary{}
	}
	respondWithJSON(w, http.StatusOK, commits)
}

// summarizeCommit computes the lazy AI summary for one commit.
// POST /v1/projects/{projectID}/commits/summarize
func (h *Handler) summarizeCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Hash == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'hash' field")
		return
	}

	summary, err := h.ingestor.SummarizeCommit(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"), req.Hash)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"hash": req.Hash, "summary": summary})
}

// askQuestion answers a free-form question about the repository.
// POST /v1/projects/{projectID}/qa/ask
func (h *Handler) askQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'question' field")
		return
	}

	exchange, err := h.ingestor.AskQuestion(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"), req.Question)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, exchange)
}

// generateFAQ produces a transient FAQ document.
// POST /v1/projects/{projectID}/faq
func (h *Handler) generateFAQ(w http.ResponseWriter, r *http.Request) {
	faq, err := h.ingestor.GenerateFAQ(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"faq": faq})
}

// analyzeCodeQuality produces a transient code-quality report.
// POST /v1/projects/{projectID}/quality
func (h *Handler) analyzeCodeQuality(w http.ResponseWriter, r *http.Request) {
	report, err := h.ingestor.AnalyzeCodeQuality(r.Context(), userID(r.Context()), chi.URLParam(r, "projectID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"report": report})
}

// respondError maps domain errors onto HTTP statuses.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var invalidURL *github.InvalidURLError
	var access *ingest.AccessError

	switch {
	case errors.As(err, &invalidURL):
		respondWithError(w, http.StatusBadRequest, invalidURL.Error())
	case errors.Is(err, ingest.ErrNotMember):
		respondWithError(w, http.StatusForbidden, "You are not a member of this project")
	case errors.Is(err, ingest.ErrNoRepository):
		respondWithError(w, http.StatusNotFound, "No repository linked to this project")
	case errors.Is(err, store.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case github.IsNotFound(err):
		respondWithError(w, http.StatusNotFound, "Repository or resource not found on GitHub")
	case errors.As(err, &access):
		respondWithJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":       access.Error(),
			"needs_token": access.NeedsToken,
		})
	case errors.Is(err, genai.ErrNotConfigured):
		respondWithError(w, http.StatusServiceUnavailable, "AI generation is not configured")
	default:
		h.logger.Error("Request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}
