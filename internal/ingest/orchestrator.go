// internal/ingest/orchestrator.go

// Package ingest coordinates repository linking, file/commit ingestion and AI
// generation. Every entry point re-derives project membership before acting;
// there is no cached authorization decision.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"repo-docs-service/internal/genai"
	"repo-docs-service/internal/github"
	"repo-docs-service/internal/model"
	"repo-docs-service/internal/store"
)

var (
	// ErrNotMember is returned when the caller does not belong to the
	// project's workspace.
	ErrNotMember = errors.New("ingest: user is not a member of this project")

	// ErrNoRepository is returned when an operation needs a linked repository
	// and the project has none.
	ErrNoRepository = errors.New("ingest: project has no linked repository")
)

// AccessError is returned when the remote repository cannot be read with the
// supplied credentials. NeedsToken tells the UI to prompt for one instead of
// showing a hard failure.
type AccessError struct {
	NeedsToken bool
	Message    string
}

func (e *AccessError) Error() string {
	return "failed to access repository: " + e.Message
}

// GitHubClient is the per-session GitHub surface the orchestrator consumes.
type GitHubClient interface {
	CheckAccess(ctx context.Context, owner, repo string) github.Access
	GetRepository(ctx context.Context, owner, repo string) (model.RepoInfo, error)
	ListFiles(ctx context.Context, owner, repo, branch, root string, maxFiles int) ([]model.RepoFile, string, *github.FetchReport, error)
	ListCommits(ctx context.Context, owner, repo, branch string, limit int) ([]model.CommitSummary, error)
	GetCommit(ctx context.Context, owner, repo, sha string) (model.CommitSummary, error)
}

// Generator is the AI generation surface the orchestrator consumes.
type Generator interface {
	Configured() bool
	GenerateDocumentation(ctx context.Context, repo model.RepoInfo, files []model.RepoFile) (string, error)
	AnswerQuestion(ctx context.Context, question string, qctx genai.QuestionContext) (string, error)
	SummarizeCommit(ctx context.Context, diff, message string) (string, error)
	GenerateFAQ(ctx context.Context, repoName string, files []model.RepoFile) (string, error)
	AnalyzeCodeQuality(ctx context.Context, files []model.RepoFile) (string, error)
}

// CommitCache mirrors fetched commits locally for fast reload.
type CommitCache interface {
	Save(ctx context.Context, projectID string, commits []model.CommitSummary) error
	Load(ctx context.Context, projectID string) ([]model.CommitSummary, error)
}

// Orchestrator is the route-level glue between the store, the GitHub client
// and the generator. Clients are constructed per call with the link's token,
// never shared as process-global singletons.
type Orchestrator struct {
	db        store.Querier
	newGitHub func(token string) GitHubClient
	gen       Generator
	cache     CommitCache
	logger    *slog.Logger

	maxFiles    int
	qaFiles     int
	commitLimit int
}

// NewOrchestrator creates an Orchestrator. maxFiles bounds documentation
// ingestion (Q&A uses a tighter fixed bound); commitLimit is the default
// page budget for commit fetches that don't name their own.
func NewOrchestrator(db store.Querier, newGitHub func(token string) GitHubClient, gen Generator, cache CommitCache, logger *slog.Logger, maxFiles, commitLimit int) *Orchestrator {
	if maxFiles <= 0 {
		maxFiles = github.DefaultMaxFiles
	}
	if commitLimit <= 0 {
		commitLimit = 100
	}
	return &Orchestrator{
		db:          db,
		newGitHub:   newGitHub,
		gen:         gen,
		cache:       cache,
		logger:      logger,
		maxFiles:    maxFiles,
		qaFiles:     10,
		commitLimit: commitLimit,
	}
}

// authorize verifies the project exists and the user belongs to its
// workspace. Called at the top of every operation.
func (o *Orchestrator) authorize(ctx context.Context, projectID, userID string) error {
	if _, err := o.db.GetProject(ctx, projectID); err != nil {
		return err
	}
	ok, err := o.db.IsMember(ctx, projectID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

// LinkRepository validates access to the repository and creates or updates
// the project's link. When the URL or branch changes from a prior link, the
// project's documentation is deleted so stale docs describing a different
// codebase cannot persist.
func (o *Orchestrator) LinkRepository(ctx context.Context, userID, projectID, rawURL, branch, token string) (model.RepositoryLink, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return model.RepositoryLink{}, err
	}

	normalized := github.NormalizeRepoURL(rawURL)
	owner, name, err := github.ParseRepoURL(normalized)
	if err != nil {
		return model.RepositoryLink{}, err
	}
	if branch == "" {
		branch = "main"
	}

	gh := o.newGitHub(token)
	access := gh.CheckAccess(ctx, owner, name)
	if !access.Accessible {
		return model.RepositoryLink{}, &AccessError{NeedsToken: access.NeedsToken, Message: access.Error}
	}

	logger := o.logger.With("project_id", projectID, "owner", owner, "repo", name)

	link := model.RepositoryLink{
		ProjectID:   projectID,
		GithubURL:   normalized,
		Owner:       owner,
		Name:        name,
		Branch:      branch,
		AccessToken: token,
		Status:      model.StatusConnected,
	}

	existing, err := o.db.GetLinkByProject(ctx, projectID)
	switch {
	case err == nil:
		if existing.GithubURL != normalized || existing.Branch != branch {
			logger.Info("Repository target changed, deleting stale documentation")
			if err := o.db.DeleteDocumentation(ctx, projectID); err != nil {
				return model.RepositoryLink{}, err
			}
		}
		logger.Info("Updating repository link")
		return o.db.UpdateLink(ctx, link)
	case errors.Is(err, store.ErrNotFound):
		logger.Info("Creating repository link")
		return o.db.CreateLink(ctx, link)
	default:
		return model.RepositoryLink{}, err
	}
}

// GetLink returns the project's repository link. A link stuck in `syncing`
// (e.g. after a crash mid-generation) self-heals to `connected` on read.
func (o *Orchestrator) GetLink(ctx context.Context, userID, projectID string) (model.RepositoryLink, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return model.RepositoryLink{}, err
	}

	link, err := o.linkOrErr(ctx, projectID)
	if err != nil {
		return model.RepositoryLink{}, err
	}

	if link.Status == model.StatusSyncing {
		if err := o.db.UpdateLinkStatus(ctx, projectID, model.StatusConnected, ""); err != nil {
			return model.RepositoryLink{}, err
		}
		link.Status = model.StatusConnected
		link.Error = ""
	}
	return link, nil
}

// Disconnect removes the repository link only. Documentation and cached
// commits are retained: data is preserved but won't be updated.
func (o *Orchestrator) Disconnect(ctx context.Context, userID, projectID string) error {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return err
	}
	if err := o.db.DeleteLink(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoRepository
		}
		return err
	}
	o.logger.Info("Repository disconnected", "project_id", projectID)
	return nil
}

// GenerateDocumentation ingests a bounded file set, synthesizes the file tree
// and directory diagram, and writes the single documentation record through
// one generation call. Any failure marks the link `error` and is re-raised.
func (o *Orchestrator) GenerateDocumentation(ctx context.Context, userID, projectID string) (model.Documentation, *github.FetchReport, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return model.Documentation{}, nil, err
	}
	link, err := o.linkOrErr(ctx, projectID)
	if err != nil {
		return model.Documentation{}, nil, err
	}

	if err := o.db.UpdateLinkStatus(ctx, projectID, model.StatusSyncing, ""); err != nil {
		return model.Documentation{}, nil, err
	}

	doc, report, err := o.generateDocumentation(ctx, link)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return model.Documentation{}, report, err
	}

	if err := o.db.UpdateLinkStatus(ctx, projectID, model.StatusConnected, ""); err != nil {
		return model.Documentation{}, report, err
	}
	if err := o.db.TouchLinkSynced(ctx, projectID); err != nil {
		return model.Documentation{}, report, err
	}
	return doc, report, nil
}

func (o *Orchestrator) generateDocumentation(ctx context.Context, link model.RepositoryLink) (model.Documentation, *github.FetchReport, error) {
	logger := o.logger.With("project_id", link.ProjectID, "owner", link.Owner, "repo", link.Name)
	gh := o.newGitHub(link.AccessToken)

	info, err := gh.GetRepository(ctx, link.Owner, link.Name)
	if err != nil {
		return model.Documentation{}, nil, err
	}

	files, branchUsed, report, err := gh.ListFiles(ctx, link.Owner, link.Name, link.Branch, "", o.maxFiles)
	if err != nil {
		return model.Documentation{}, report, err
	}
	logger.Info("Fetched repository files", "count", len(files), "skipped", len(report.Skipped), "branch", branchUsed)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	info.Branch = branchUsed

	content, err := o.gen.GenerateDocumentation(ctx, info, files)
	if err != nil {
		return model.Documentation{}, report, err
	}

	doc, err := o.db.UpsertDocumentation(ctx, model.Documentation{
		ProjectID:      link.ProjectID,
		Content:        content,
		FileStructure:  github.GenerateFileTree(paths),
		MermaidDiagram: github.GenerateMermaidDiagram(paths),
	})
	if err != nil {
		return model.Documentation{}, report, err
	}
	logger.Info("Documentation generated", "files", len(files))
	return doc, report, nil
}

// GetDocumentation returns the stored documentation record.
func (o *Orchestrator) GetDocumentation(ctx context.Context, userID, projectID string) (model.Documentation, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return model.Documentation{}, err
	}
	return o.db.GetDocumentation(ctx, projectID)
}

// FetchCommits pages through the linked branch's history. Results carry a nil
// AISummary (summaries are computed lazily per request, never eagerly) and
// are mirrored into the commit cache before being returned transiently.
func (o *Orchestrator) FetchCommits(ctx context.Context, userID, projectID string, limit int) ([]model.CommitSummary, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return nil, err
	}
	link, err := o.linkOrErr(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = o.commitLimit
	}
	gh := o.newGitHub(link.AccessToken)
	commits, err := gh.ListCommits(ctx, link.Owner, link.Name, link.Branch, limit)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return nil, err
	}

	if err := o.cache.Save(ctx, projectID, commits); err != nil {
		// Cache mirroring is best-effort acceleration, never a failure.
		o.logger.Warn("Commit cache save failed", "project_id", projectID, "error", err)
	}
	if err := o.db.TouchLinkSynced(ctx, projectID); err != nil {
		return nil, err
	}
	return commits, nil
}

// CachedCommits serves the locally mirrored commit set without touching the
// GitHub API.
func (o *Orchestrator) CachedCommits(ctx context.Context, userID, projectID string) ([]model.CommitSummary, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return o.cache.Load(ctx, projectID)
}

// SummarizeCommit computes the lazy AI summary for one commit.
func (o *Orchestrator) SummarizeCommit(ctx context.Context, userID, projectID, hash string) (string, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return "", err
	}
	link, err := o.linkOrErr(ctx, projectID)
	if err != nil {
		return "", err
	}

	gh := o.newGitHub(link.AccessToken)
	commit, err := gh.GetCommit(ctx, link.Owner, link.Name, hash)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return "", err
	}

	summary, err := o.gen.SummarizeCommit(ctx, buildDiff(commit), commit.Message)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return "", err
	}
	return summary, nil
}

// AskQuestion answers a free-form question over a small file set, the stored
// documentation if present, and a commit-history digest only when the
// question contains history keywords (commit context is expensive to build
// and irrelevant to most questions). The exchange is transient.
func (o *Orchestrator) AskQuestion(ctx context.Context, userID, projectID, question string) (model.QAExchange, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return model.QAExchange{}, err
	}
	link, err := o.linkOrErr(ctx, projectID)
	if err != nil {
		return model.QAExchange{}, err
	}

	gh := o.newGitHub(link.AccessToken)
	files, _, _, err := gh.ListFiles(ctx, link.Owner, link.Name, link.Branch, "", o.qaFiles)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return model.QAExchange{}, err
	}

	qctx := genai.QuestionContext{Files: files}
	if doc, err := o.db.GetDocumentation(ctx, projectID); err == nil {
		qctx.Documentation = doc.Content
	}

	if genai.HasHistoryKeywords(question) {
		commits, err := gh.ListCommits(ctx, link.Owner, link.Name, link.Branch, 100)
		if err != nil {
			// History context is an enrichment; answer without it.
			o.logger.Warn("Commit digest fetch failed", "project_id", projectID, "error", err)
		} else {
			qctx.Commits = commits
		}
	}

	answer, err := o.gen.AnswerQuestion(ctx, question, qctx)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return model.QAExchange{}, err
	}

	return model.QAExchange{Question: question, Answer: answer, Timestamp: time.Now()}, nil
}

// GenerateFAQ produces a transient FAQ over a bounded file set.
func (o *Orchestrator) GenerateFAQ(ctx context.Context, userID, projectID string) (string, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return "", err
	}
	link, err := o.linkOrErr(ctx, projectID)
	if err != nil {
		return "", err
	}

	gh := o.newGitHub(link.AccessToken)
	files, _, _, err := gh.ListFiles(ctx, link.Owner, link.Name, link.Branch, "", o.maxFiles)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return "", err
	}

	faq, err := o.gen.GenerateFAQ(ctx, link.Owner+"/"+link.Name, files)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return "", err
	}
	return faq, nil
}

// AnalyzeCodeQuality produces a transient code-quality report over a bounded
// file set.
func (o *Orchestrator) AnalyzeCodeQuality(ctx context.Context, userID, projectID string) (string, error) {
	if err := o.authorize(ctx, projectID, userID); err != nil {
		return "", err
	}
	link, err := o.linkOrErr(ctx, projectID)
	if err != nil {
		return "", err
	}

	gh := o.newGitHub(link.AccessToken)
	files, _, _, err := gh.ListFiles(ctx, link.Owner, link.Name, link.Branch, "", o.maxFiles)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return "", err
	}

	report, err := o.gen.AnalyzeCodeQuality(ctx, files)
	if err != nil {
		o.failLink(ctx, projectID, err)
		return "", err
	}
	return report, nil
}

func (o *Orchestrator) linkOrErr(ctx context.Context, projectID string) (model.RepositoryLink, error) {
	link, err := o.db.GetLinkByProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.RepositoryLink{}, ErrNoRepository
		}
		return model.RepositoryLink{}, err
	}
	return link, nil
}

// failLink records a fetch/generation failure on the link. The original
// error, not this bookkeeping, is what callers see.
func (o *Orchestrator) failLink(ctx context.Context, projectID string, cause error) {
	if err := o.db.UpdateLinkStatus(ctx, projectID, model.StatusError, cause.Error()); err != nil {
		o.logger.Error("Failed to record link error", "project_id", projectID, "error", err)
	}
}

func buildDiff(commit model.CommitSummary) string {
	var b strings.Builder
	for _, f := range commit.Files {
		fmt.Fprintf(&b, "--- %s (%s, +%d -%d)\n", f.Filename, f.Status, f.Additions, f.Deletions)
		if f.Patch != "" {
			b.WriteString(f.Patch)
			b.WriteString("\n")
		}
	}
	return b.String()
}
