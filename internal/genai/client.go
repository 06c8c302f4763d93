// internal/genai/client.go

// Package genai wraps a Gemini-style generateContent endpoint behind
// single-purpose prompt templates for documentation, Q&A, commit summaries,
// FAQ and code-quality analysis.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"repo-docs-service/internal/model"
)

const (
	// DefaultBaseURL is the production generation endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultModel is used when config names none.
	DefaultModel = "gemini-1.5-flash"

	docMaxOutputTokens    = 8192
	answerMaxOutputTokens = 2048
)

// ErrNotConfigured is returned before any network call when no API key is
// set. Callers surface it as "configure the system", not "retry".
var ErrNotConfigured = errors.New("genai: API key not configured")

// RetryPolicy controls retries on 429/5xx and transport failures. Fixed
// count, fixed delay: call volume is low and user-triggered, so exponential
// backoff buys nothing here.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy retries twice more after the first failure, 500ms apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// Client calls the text-generation endpoint. Construct one per process and
// inject it; configuration is explicit, never global.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewClient creates a generation client. An empty apiKey is allowed; every
// call then fails fast with ErrNotConfigured.
func NewClient(baseURL, apiKey, modelName string, retry RetryPolicy, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   modelName,
		http:    &http.Client{Timeout: 120 * time.Second},
		retry:   retry,
		logger:  logger,
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool { return c.apiKey != "" }

func (c *Client) ensureConfigured() error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	return nil
}

// GenerateDocumentation produces the full documentation markdown for a
// repository from a bounded file set. The response is returned untouched.
func (c *Client) GenerateDocumentation(ctx context.Context, repo model.RepoInfo, files []model.RepoFile) (string, error) {
	return c.generate(ctx, buildDocumentationPrompt(repo, files), 0.3, docMaxOutputTokens)
}

// AnswerQuestion answers a free-form question about the repository.
func (c *Client) AnswerQuestion(ctx context.Context, question string, qctx QuestionContext) (string, error) {
	return c.generate(ctx, buildQuestionPrompt(question, qctx), 0.4, answerMaxOutputTokens)
}

// SummarizeCommit produces a short plain-language summary of one commit.
func (c *Client) SummarizeCommit(ctx context.Context, diff, message string) (string, error) {
	return c.generate(ctx, buildCommitSummaryPrompt(diff, message), 0.3, 512)
}

// SummarizeFile produces a short description of a single file.
func (c *Client) SummarizeFile(ctx context.Context, path, content string) (string, error) {
	return c.generate(ctx, buildFileSummaryPrompt(path, content), 0.3, 512)
}

// GenerateFAQ produces a frequently-asked-questions section for the repo.
func (c *Client) GenerateFAQ(ctx context.Context, repoName string, files []model.RepoFile) (string, error) {
	return c.generate(ctx, buildFAQPrompt(repoName, files), 0.4, answerMaxOutputTokens)
}

// AnalyzeCodeQuality produces a code-quality review over a bounded file set.
func (c *Client) AnalyzeCodeQuality(ctx context.Context, files []model.RepoFile) (string, error) {
	return c.generate(ctx, buildCodeQualityPrompt(files), 0.3, answerMaxOutputTokens)
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

// generate is the single call primitive every template goes through.
func (c *Client) generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	if err := c.ensureConfigured(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: temperature, MaxOutputTokens: maxTokens},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.retry.Sleep(ctx, c.retry.Delay); err != nil {
				return "", err
			}
		}

		body, status, err := c.post(ctx, endpoint, payload)
		if err != nil {
			lastErr = err
			c.logger.Warn("Generation request failed", "attempt", attempt, "error", err)
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = fmt.Errorf("genai: generation error (status %d): %s", status, truncate(string(body), 200))
			c.logger.Warn("Generation request rejected", "attempt", attempt, "status", status)
			continue
		}
		if status != http.StatusOK {
			return "", fmt.Errorf("genai: generation error (status %d): %s", status, truncate(string(body), 200))
		}
		return extractText(body), nil
	}
	return "", lastErr
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("genai: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
