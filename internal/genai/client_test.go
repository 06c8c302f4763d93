// internal/genai/client_test.go
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-docs-service/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// noSleepPolicy keeps retry counts real but removes the delays, counting how
// often the client slept.
func noSleepPolicy(slept *int32) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			atomic.AddInt32(slept, 1)
			return nil
		},
	}
}

func TestClient_Generate(t *testing.T) {
	t.Run("fails fast when unconfigured", func(t *testing.T) {
		var requests int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
		}))
		defer server.Close()

		client := NewClient(server.URL, "", "test-model", DefaultRetryPolicy(), testLogger())

		assert.False(t, client.Configured())
		_, err := client.GenerateDocumentation(context.Background(), model.RepoInfo{Owner: "a", Name: "b"}, nil)
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.Equal(t, int32(0), atomic.LoadInt32(&requests), "no network call before the key check")
	})

	t.Run("sends prompt and extracts text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Contains(t, r.URL.Path, "/models/test-model:generateContent")
			assert.Equal(t, "secret", r.URL.Query().Get("key"))
			fmt.Fprintln(w, `{"candidates":[{"content":{"parts":[{"text":"# Project Overview\nhello"}]}}]}`)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret", "test-model", DefaultRetryPolicy(), testLogger())

		out, err := client.GenerateDocumentation(context.Background(), model.RepoInfo{Owner: "acme", Name: "widget", Branch: "main"}, []model.RepoFile{{Path: "main.go", Content: "package main"}})

		require.NoError(t, err)
		assert.Equal(t, "# Project Overview\nhello", out)
	})

	t.Run("file summary embeds path and content", func(t *testing.T) {
		var gotPrompt string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req generateRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotPrompt = req.Contents[0].Parts[0].Text
			fmt.Fprintln(w, `{"candidates":[{"content":{"parts":[{"text":"Parses widgets."}]}}]}`)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret", "test-model", DefaultRetryPolicy(), testLogger())

		out, err := client.SummarizeFile(context.Background(), "internal/parse.go", "package parse")

		require.NoError(t, err)
		assert.Equal(t, "Parses widgets.", out)
		assert.Contains(t, gotPrompt, "internal/parse.go")
		assert.Contains(t, gotPrompt, "package parse")
	})

	t.Run("retries on 429 and succeeds", func(t *testing.T) {
		var requests, slept int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&requests, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			fmt.Fprintln(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret", "test-model", noSleepPolicy(&slept), testLogger())

		out, err := client.SummarizeCommit(context.Background(), "diff", "message")

		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
		assert.Equal(t, int32(1), atomic.LoadInt32(&slept))
	})

	t.Run("gives up after max attempts on 500", func(t *testing.T) {
		var requests, slept int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewClient(server.URL, "secret", "test-model", noSleepPolicy(&slept), testLogger())

		_, err := client.AnswerQuestion(context.Background(), "why?", QuestionContext{})

		require.Error(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
		assert.Equal(t, int32(2), atomic.LoadInt32(&slept))
	})

	t.Run("non-retryable status fails immediately", func(t *testing.T) {
		var requests int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requests, 1)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, `{"error":{"message":"invalid prompt"}}`)
		}))
		defer server.Close()

		var slept int32
		client := NewClient(server.URL, "secret", "test-model", noSleepPolicy(&slept), testLogger())

		_, err := client.GenerateFAQ(context.Background(), "acme/widget", nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 400")
		assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
		assert.Equal(t, int32(0), atomic.LoadInt32(&slept))
	})
}
