// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"repo-docs-service/internal/model"
)

const (
	// maxRetries bounds total attempts per request in the retry transport.
	maxRetries = 3

	// commitsPerPage is the GitHub maximum page size for commit listings.
	commitsPerPage = 100

	// detailBatchSize bounds concurrent per-commit detail requests so a large
	// history does not trip secondary rate limits.
	detailBatchSize = 10

	// DefaultMaxFiles is the file-ingestion budget when the caller passes none.
	DefaultMaxFiles = 30

	// MaxCommitLimit caps how many commits a single listing may return.
	MaxCommitLimit = 500
)

var repoURLPattern = regexp.MustCompile(`github\.com/([^/\s]+)/([^/\s]+?)(?:\.git)?/?$`)

// skipDirs are directories excluded from ingestion walks.
var skipDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"vendor":       true,
	"__pycache__":  true,
}

// allowedExtensions is the ingestion allow-list: source, markdown and common
// config formats. Everything else is noise for documentation purposes.
var allowedExtensions = map[string]bool{
	".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".rb": true, ".rs": true, ".java": true, ".kt": true,
	".c": true, ".h": true, ".cc": true, ".cpp": true, ".cs": true,
	".php": true, ".swift": true, ".scala": true, ".sh": true, ".sql": true,
	".md": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".html": true, ".css": true, ".vue": true, ".svelte": true,
}

// Client is a wrapper around the go-github client. A Client is constructed
// per fetch session so each repository link's token stays scoped to its own
// requests.
type Client struct {
	gh     *gogithub.Client
	logger *slog.Logger
	pace   func(context.Context) error
}

// NewClient creates and configures a new Client instance. An empty token
// yields unauthenticated (public-repo-only) access.
func NewClient(token string, logger *slog.Logger) *Client {
	base := &http.Client{
		Transport: &retryTransport{base: http.DefaultTransport},
		Timeout:   60 * time.Second,
	}

	httpClient := base
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}

	// Detail batches inside a commit page run in parallel; the limiter paces
	// between batches and pages (the original imposed 100ms sleeps).
	limiter := rate.NewLimiter(rate.Every(100*time.Millisecond), 1)

	return &Client{
		gh:     gogithub.NewClient(httpClient),
		logger: logger,
		pace:   limiter.Wait,
	}
}

// NewEnterpriseClient is NewClient pointed at a GitHub Enterprise (or test
// stub) API base URL.
func NewEnterpriseClient(baseURL, token string, logger *slog.Logger) (*Client, error) {
	c := NewClient(token, logger)
	gh, err := c.gh.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, err
	}
	c.gh = gh
	return c, nil
}

// ParseRepoURL extracts owner and repository name from a GitHub URL,
// tolerating a trailing slash or .git suffix.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", &InvalidURLError{URL: raw}
	}
	return m[1], m[2], nil
}

// NormalizeRepoURL lowercases a repository URL and strips the trailing slash
// and .git suffix, so equality checks on stored links are stable.
func NormalizeRepoURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")
	return s
}

// Access is the result of probing a repository before linking it.
type Access struct {
	Accessible bool   `json:"accessible"`
	Private    bool   `json:"private"`
	NeedsToken bool   `json:"needs_token"`
	Error      string `json:"error,omitempty"`
}

// CheckAccess probes repository visibility. GitHub returns 404 for private
// repositories the caller cannot see, so 404 and 403 both map to
// "private, needs token" instead of a hard failure.
func (c *Client) CheckAccess(ctx context.Context, owner, repo string) Access {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err == nil {
		return Access{Accessible: true, Private: r.GetPrivate()}
	}

	var errResp *gogithub.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusNotFound:
			return Access{Private: true, NeedsToken: true, Error: "repository not found or private"}
		case http.StatusUnauthorized, http.StatusForbidden:
			return Access{Private: true, NeedsToken: true, Error: "access denied"}
		}
	}
	return Access{Error: err.Error()}
}

// GetRepository fetches repository metadata for prompt construction.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (model.RepoInfo, error) {
	r, _, err := c.gh.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return model.RepoInfo{}, c.wrapError(err)
	}
	return model.RepoInfo{
		Owner:       r.GetOwner().GetLogin(),
		Name:        r.GetName(),
		Description: r.GetDescription(),
		Branch:      r.GetDefaultBranch(),
	}, nil
}

// SkippedFile records one item dropped during a best-effort walk.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// FetchReport is the partial-success report for a file ingestion walk.
type FetchReport struct {
	Fetched int           `json:"fetched"`
	Skipped []SkippedFile `json:"skipped,omitempty"`
}

// ListFiles recursively walks the repository from root, bounded by a running
// maxFiles budget. Dotfiles, build directories and disallowed extensions are
// skipped; individual fetch failures are recorded in the report and never
// abort the walk. A 404 on the root listing of "main" falls back to "master".
// The branch actually used is returned alongside the files.
func (c *Client) ListFiles(ctx context.Context, owner, repo, branch, root string, maxFiles int) ([]model.RepoFile, string, *FetchReport, error) {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if branch == "" {
		branch = "main"
	}

	report := &FetchReport{}
	budget := maxFiles
	var files []model.RepoFile

	err := c.walkDir(ctx, owner, repo, branch, root, &budget, &files, report)
	if err != nil && root == "" && branch == "main" && IsNotFound(err) {
		c.logger.Debug("Root listing missing on main, retrying master", "owner", owner, "repo", repo)
		branch = "master"
		budget = maxFiles
		files = nil
		*report = FetchReport{}
		err = c.walkDir(ctx, owner, repo, branch, root, &budget, &files, report)
	}
	if err != nil {
		return nil, branch, report, err
	}

	report.Fetched = len(files)
	return files, branch, report, nil
}

// walkDir lists one directory and recurses. Only the listing of the directory
// itself can fail the call; failures beneath it are absorbed into the report.
func (c *Client) walkDir(ctx context.Context, owner, repo, branch, dir string, budget *int, out *[]model.RepoFile, report *FetchReport) error {
	if *budget <= 0 {
		return nil
	}

	opts := &gogithub.RepositoryContentGetOptions{Ref: branch}
	_, entries, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, dir, opts)
	if err != nil {
		return c.wrapError(err)
	}

	for _, entry := range entries {
		if *budget <= 0 {
			return nil
		}
		name := entry.GetName()
		if strings.HasPrefix(name, ".") {
			continue
		}

		switch entry.GetType() {
		case "dir":
			if skipDirs[name] {
				continue
			}
			if err := c.walkDir(ctx, owner, repo, branch, entry.GetPath(), budget, out, report); err != nil {
				report.Skipped = append(report.Skipped, SkippedFile{Path: entry.GetPath(), Reason: err.Error()})
			}
		case "file":
			if !allowedExtensions[strings.ToLower(filepath.Ext(name))] {
				continue
			}
			content, err := c.fetchFile(ctx, owner, repo, branch, entry.GetPath())
			if err != nil {
				report.Skipped = append(report.Skipped, SkippedFile{Path: entry.GetPath(), Reason: err.Error()})
				continue
			}
			*out = append(*out, model.RepoFile{Path: entry.GetPath(), Content: content})
			*budget--
		}
	}
	return nil
}

func (c *Client) fetchFile(ctx context.Context, owner, repo, branch, path string) (string, error) {
	opts := &gogithub.RepositoryContentGetOptions{Ref: branch}
	fileContent, _, _, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		return "", c.wrapError(err)
	}
	if fileContent == nil {
		return "", fmt.Errorf("path %q is not a file", path)
	}
	return fileContent.GetContent()
}

// ListCommits pages through the branch history newest-first, 100 commits per
// page, enriching each page with per-commit diff stats in batches of
// detailBatchSize. Pages are strictly sequential; only the detail fetches
// within a batch run in parallel. A detail failure degrades that commit to
// its basic form. Listing stops at the limit or at a short page.
func (c *Client) ListCommits(ctx context.Context, owner, repo, branch string, limit int) ([]model.CommitSummary, error) {
	if limit <= 0 || limit > MaxCommitLimit {
		limit = MaxCommitLimit
	}

	opts := &gogithub.CommitsListOptions{
		SHA:         branch,
		ListOptions: gogithub.ListOptions{PerPage: commitsPerPage},
	}

	var all []model.CommitSummary
	for page := 1; ; page++ {
		opts.Page = page
		c.logger.Debug("Fetching commits page", "owner", owner, "repo", repo, "page", page)

		commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, opts)
		if err != nil {
			return nil, c.wrapError(err)
		}

		batch := make([]model.CommitSummary, len(commits))
		for i, rc := range commits {
			batch[i] = toCommitSummary(rc)
		}
		if remaining := limit - len(all); len(batch) > remaining {
			batch = batch[:remaining]
		}

		if err := c.enrichCommits(ctx, owner, repo, batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)

		if len(all) >= limit || len(commits) < commitsPerPage {
			break
		}
		if err := c.pace(ctx); err != nil {
			return nil, err
		}
	}
	return all, nil
}

func (c *Client) enrichCommits(ctx context.Context, owner, repo string, batch []model.CommitSummary) error {
	for start := 0; start < len(batch); start += detailBatchSize {
		end := min(start+detailBatchSize, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				detail, _, err := c.gh.Repositories.GetCommit(gctx, owner, repo, batch[i].Hash, nil)
				if err != nil {
					// Degrade to the basic commit instead of failing the batch.
					c.logger.Debug("Commit detail fetch failed", "sha", batch[i].Hash, "error", err)
					return nil
				}
				applyDetail(&batch[i], detail)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := c.pace(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GetCommit fetches a single commit with its full diff detail.
func (c *Client) GetCommit(ctx context.Context, owner, repo, sha string) (model.CommitSummary, error) {
	detail, _, err := c.gh.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return model.CommitSummary{}, c.wrapError(err)
	}
	cs := toCommitSummary(detail)
	applyDetail(&cs, detail)
	return cs, nil
}

// toCommitSummary translates a github.RepositoryCommit to our commit shape.
// AISummary stays nil: summaries are computed lazily per user request.
func toCommitSummary(rc *gogithub.RepositoryCommit) model.CommitSummary {
	author := rc.GetCommit().GetAuthor().GetName()
	if author == "" {
		author = rc.GetAuthor().GetLogin()
	}
	return model.CommitSummary{
		Hash:         rc.GetSHA(),
		Message:      rc.GetCommit().GetMessage(),
		Author:       author,
		AuthorAvatar: rc.GetAuthor().GetAvatarURL(),
		Date:         rc.GetCommit().GetAuthor().GetDate().Time,
		URL:          rc.GetHTMLURL(),
	}
}

func applyDetail(cs *model.CommitSummary, detail *gogithub.RepositoryCommit) {
	cs.Additions = detail.GetStats().GetAdditions()
	cs.Deletions = detail.GetStats().GetDeletions()
	cs.FilesChanged = len(detail.Files)
	cs.Files = make([]model.CommitFile, 0, len(detail.Files))
	for _, f := range detail.Files {
		cs.Files = append(cs.Files, model.CommitFile{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Patch:     f.GetPatch(),
		})
	}
}

// wrapError converts go-github errors to our error types.
func (c *Client) wrapError(err error) error {
	var errResp *gogithub.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrRepoNotFound, errResp.Message)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrAccessDenied, errResp.Message)
		default:
			return &APIError{StatusCode: errResp.Response.StatusCode, Message: errResp.Message}
		}
	}
	return err
}

// retryTransport retries idempotent requests on 5xx responses and waits out a
// primary rate limit when GitHub reports one.
type retryTransport struct {
	base http.RoundTripper
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if attempt >= maxRetries {
			return resp, nil
		}

		if resp.StatusCode >= 500 {
			drain(resp)
			if err := sleepCtx(req.Context(), time.Duration(attempt)*200*time.Millisecond); err != nil {
				return nil, err
			}
			continue
		}

		if wait, ok := rateLimitWait(resp); ok {
			drain(resp)
			if err := sleepCtx(req.Context(), wait); err != nil {
				return nil, err
			}
			continue
		}

		return resp, nil
	}
}

// rateLimitWait reports how long to wait when the response is a primary rate
// limit rejection (403/429 with an exhausted quota and a reset timestamp).
func rateLimitWait(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	reset := resp.Header.Get("X-RateLimit-Reset")
	if reset == "" {
		return 0, false
	}
	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" && remaining != "0" {
		return 0, false
	}
	unix, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return 0, false
	}
	wait := time.Until(time.Unix(unix, 0))
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
