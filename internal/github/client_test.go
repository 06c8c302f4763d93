// internal/github/client_test.go
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a httptest server and a github client pointing to it.
// The retry transport is kept in the chain so its behavior is under test; the
// inter-batch pacer is stubbed out so tests don't sleep.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client := NewClient("", logger)
	client.pace = func(context.Context) error { return nil }

	hc := &http.Client{Transport: &retryTransport{base: http.DefaultTransport}}
	testClient, err := github.NewClient(hc).WithEnterpriseURLs(server.URL, server.URL)
	require.NoError(t, err)
	client.gh = testClient

	return client, server
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		owner   string
		repo    string
		wantErr bool
	}{
		{"plain https", "https://github.com/acme/widget", "acme", "widget", false},
		{"git suffix", "https://github.com/acme/widget.git", "acme", "widget", false},
		{"trailing slash", "https://github.com/acme/widget/", "acme", "widget", false},
		{"no scheme", "github.com/acme/widget", "acme", "widget", false},
		{"surrounding whitespace", "  https://github.com/acme/widget  ", "acme", "widget", false},
		{"not github", "https://gitlab.com/acme/widget", "", "", true},
		{"missing repo", "https://github.com/acme", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepoURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				var invalid *InvalidURLError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestNormalizeRepoURL(t *testing.T) {
	assert.Equal(t, "https://github.com/acme/widget", NormalizeRepoURL("https://github.com/Acme/Widget.git"))
	assert.Equal(t, "https://github.com/acme/widget", NormalizeRepoURL(" https://github.com/acme/widget/ "))
	assert.Equal(t, "https://github.com/acme/widget", NormalizeRepoURL("https://github.com/acme/widget"))
}

func TestClient_CheckAccess(t *testing.T) {
	t.Run("public repository is accessible", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}, "private": false}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		access := client.CheckAccess(context.Background(), "test", "repo")

		assert.True(t, access.Accessible)
		assert.False(t, access.NeedsToken)
	})

	t.Run("404 maps to private needing token", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		access := client.CheckAccess(context.Background(), "test", "repo")

		assert.False(t, access.Accessible)
		assert.True(t, access.Private)
		assert.True(t, access.NeedsToken)
	})

	t.Run("403 maps to private needing token", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"message": "Forbidden"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		access := client.CheckAccess(context.Background(), "test", "repo")

		assert.False(t, access.Accessible)
		assert.True(t, access.NeedsToken)
	})
}

func TestClient_ListFiles(t *testing.T) {
	t.Run("filters and budget", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/repos/test/repo/contents/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `[
				{"name": ".github", "path": ".github", "type": "dir"},
				{"name": "node_modules", "path": "node_modules", "type": "dir"},
				{"name": "logo.png", "path": "logo.png", "type": "file"},
				{"name": "main.go", "path": "main.go", "type": "file"},
				{"name": "util.go", "path": "util.go", "type": "file"},
				{"name": "README.md", "path": "README.md", "type": "file"}
			]`)
		})
		mux.HandleFunc("/api/v3/repos/test/repo/contents/main.go", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"name": "main.go", "path": "main.go", "type": "file", "encoding": "base64", "content": "%s"}`, b64("package main"))
		})
		mux.HandleFunc("/api/v3/repos/test/repo/contents/util.go", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"name": "util.go", "path": "util.go", "type": "file", "encoding": "base64", "content": "%s"}`, b64("package main // util"))
		})
		client, server := setupTestClient(t, mux)
		defer server.Close()

		files, branch, report, err := client.ListFiles(context.Background(), "test", "repo", "main", "", 2)

		require.NoError(t, err)
		assert.Equal(t, "main", branch)
		require.Len(t, files, 2)
		assert.Equal(t, "main.go", files[0].Path)
		assert.Equal(t, "package main", files[0].Content)
		assert.Equal(t, "util.go", files[1].Path)
		assert.Equal(t, 2, report.Fetched)
	})

	t.Run("falls back to master when main has no root", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/repos/test/repo/contents/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("ref") == "main" {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprintln(w, `{"message": "Not Found"}`)
				return
			}
			fmt.Fprintln(w, `[{"name": "app.py", "path": "app.py", "type": "file"}]`)
		})
		mux.HandleFunc("/api/v3/repos/test/repo/contents/app.py", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"name": "app.py", "path": "app.py", "type": "file", "encoding": "base64", "content": "%s"}`, b64("print('hi')"))
		})
		client, server := setupTestClient(t, mux)
		defer server.Close()

		files, branch, _, err := client.ListFiles(context.Background(), "test", "repo", "main", "", 10)

		require.NoError(t, err)
		assert.Equal(t, "master", branch)
		require.Len(t, files, 1)
		assert.Equal(t, "app.py", files[0].Path)
	})

	t.Run("subdirectory failure is reported, not fatal", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/repos/test/repo/contents/", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `[
				{"name": "broken", "path": "broken", "type": "dir"},
				{"name": "main.go", "path": "main.go", "type": "file"}
			]`)
		})
		mux.HandleFunc("/api/v3/repos/test/repo/contents/broken", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		mux.HandleFunc("/api/v3/repos/test/repo/contents/main.go", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"name": "main.go", "path": "main.go", "type": "file", "encoding": "base64", "content": "%s"}`, b64("package main"))
		})
		client, server := setupTestClient(t, mux)
		defer server.Close()

		files, _, report, err := client.ListFiles(context.Background(), "test", "repo", "dev", "", 10)

		require.NoError(t, err)
		require.Len(t, files, 1)
		require.Len(t, report.Skipped, 1)
		assert.Equal(t, "broken", report.Skipped[0].Path)
	})
}

func TestClient_ListCommits(t *testing.T) {
	listBody := `[
		{"sha": "aaa1", "commit": {"message": "first change", "author": {"name": "Alice", "date": "2024-03-01T10:00:00Z"}}, "author": {"login": "alice"}, "html_url": "https://github.com/test/repo/commit/aaa1"},
		{"sha": "bbb2", "commit": {"message": "second change", "author": {"name": "Bob", "date": "2024-02-01T10:00:00Z"}}, "author": {"login": "bob"}, "html_url": "https://github.com/test/repo/commit/bbb2"},
		{"sha": "ccc3", "commit": {"message": "third change", "author": {"name": "Carol", "date": "2024-01-01T10:00:00Z"}}, "author": {"login": "carol"}, "html_url": "https://github.com/test/repo/commit/ccc3"}
	]`

	t.Run("enriches commits with diff stats", func(t *testing.T) {
		var detailCalls int32
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/repos/test/repo/commits", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, listBody)
		})
		mux.HandleFunc("/api/v3/repos/test/repo/commits/", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&detailCalls, 1)
			fmt.Fprintln(w, `{
				"sha": "aaa1",
				"commit": {"message": "first change", "author": {"name": "Alice", "date": "2024-03-01T10:00:00Z"}},
				"stats": {"additions": 5, "deletions": 2},
				"files": [{"filename": "a.go", "status": "modified", "additions": 5, "deletions": 2, "patch": "@@ -1 +1 @@"}]
			}`)
		})
		client, server := setupTestClient(t, mux)
		defer server.Close()

		commits, err := client.ListCommits(context.Background(), "test", "repo", "main", 10)

		require.NoError(t, err)
		require.Len(t, commits, 3)
		assert.Equal(t, "aaa1", commits[0].Hash)
		assert.Equal(t, "Alice", commits[0].Author)
		assert.Equal(t, 5, commits[0].Additions)
		assert.Equal(t, 1, commits[0].FilesChanged)
		assert.Nil(t, commits[0].AISummary, "summaries are lazy, never set on fetch")
		assert.Equal(t, int32(3), atomic.LoadInt32(&detailCalls))
	})

	t.Run("limit truncates before enrichment", func(t *testing.T) {
		var detailCalls int32
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/repos/test/repo/commits", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, listBody)
		})
		mux.HandleFunc("/api/v3/repos/test/repo/commits/", func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&detailCalls, 1)
			fmt.Fprintln(w, `{"sha": "x", "commit": {"message": "m", "author": {"name": "A", "date": "2024-01-01T10:00:00Z"}}, "stats": {"additions": 1, "deletions": 0}}`)
		})
		client, server := setupTestClient(t, mux)
		defer server.Close()

		commits, err := client.ListCommits(context.Background(), "test", "repo", "main", 2)

		require.NoError(t, err)
		assert.Len(t, commits, 2)
		assert.Equal(t, int32(2), atomic.LoadInt32(&detailCalls), "dropped commits must not be enriched")
	})

	t.Run("detail failure degrades to basic commit", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/v3/repos/test/repo/commits", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, `[{"sha": "aaa1", "commit": {"message": "first change", "author": {"name": "Alice", "date": "2024-03-01T10:00:00Z"}}}]`)
		})
		mux.HandleFunc("/api/v3/repos/test/repo/commits/aaa1", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, mux)
		defer server.Close()

		commits, err := client.ListCommits(context.Background(), "test", "repo", "main", 10)

		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Equal(t, "first change", commits[0].Message)
		assert.Zero(t, commits[0].FilesChanged)
		assert.Empty(t, commits[0].Files)
	})
}

func TestClient_GetRepository_Retry(t *testing.T) {
	t.Run("succeeds on first try", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}, "default_branch": "main"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		repo, err := client.GetRepository(context.Background(), "test", "repo")

		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requestCount))
		assert.Equal(t, "repo", repo.Name)
		assert.Equal(t, "main", repo.Branch)
	})

	t.Run("retries on 503 server error and succeeds", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.WriteHeader(http.StatusServiceUnavailable) // Fail first time
				return
			}
			w.WriteHeader(http.StatusOK) // Succeed second time
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount), "should have made two requests")
	})

	t.Run("handles rate limit error", func(t *testing.T) {
		var requestCount int32
		resetTime := time.Now().Add(50 * time.Millisecond) // Short wait time for test
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count := atomic.AddInt32(&requestCount, 1)
			if count == 1 {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime.Unix()))
				w.WriteHeader(http.StatusForbidden) // Primary rate limit is a 403
				fmt.Fprintln(w, `{"message": "API rate limit exceeded"}`)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, `{"id": 1, "name": "repo", "owner": {"login": "test"}}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requestCount))
	})

	t.Run("fails after max retries on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprintln(w, `{"message": "boom"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		require.Error(t, err)
		var apiErr *APIError
		assert.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&requestCount))
	})

	t.Run("404 maps to ErrRepoNotFound", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Not Found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.GetRepository(context.Background(), "test", "repo")

		assert.True(t, IsNotFound(err))
	})
}
