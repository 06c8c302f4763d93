// internal/genai/prompts.go
package genai

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"repo-docs-service/internal/model"
)

const (
	// filePreviewChars truncates each file's content before prompt embedding.
	filePreviewChars = 3000

	// maxPromptFiles caps how many files a single prompt embeds.
	maxPromptFiles = 30

	// maxQuestionFiles is the tighter cap used for Q&A prompts.
	maxQuestionFiles = 10

	// digestCommits is how many recent commits the history digest includes.
	digestCommits = 10
)

// documentationSections is the fixed outline every documentation generation
// must follow.
var documentationSections = []string{
	"Project Overview",
	"Architecture",
	"Getting Started",
	"Installation",
	"Configuration",
	"Core Features",
	"API Reference",
	"Data Models",
	"Directory Structure",
	"Key Dependencies",
	"Development Workflow",
	"Testing",
	"Deployment",
	"Troubleshooting",
	"Contributing",
}

// historyKeywords gate whether a Q&A prompt includes the commit-history
// digest. Building commit context is expensive and irrelevant to most
// questions, so it is included only when the question sounds historical.
var historyKeywords = []string{
	"commit", "commits", "author", "authors", "history", "who", "when",
	"first", "last", "recent", "change", "changed", "contributor", "contributors",
}

// HasHistoryKeywords reports whether a question calls for commit context.
func HasHistoryKeywords(question string) bool {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, word := range words {
		for _, kw := range historyKeywords {
			if word == kw {
				return true
			}
		}
	}
	return false
}

// QuestionContext carries the optional context sources for a Q&A prompt.
type QuestionContext struct {
	Files         []model.RepoFile
	Documentation string
	Commits       []model.CommitSummary
}

func buildDocumentationPrompt(repo model.RepoInfo, files []model.RepoFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a technical writer. Generate comprehensive markdown documentation for the GitHub repository %s/%s (branch %s).\n",
		repo.Owner, repo.Name, repo.Branch)
	if repo.Description != "" {
		fmt.Fprintf(&b, "Repository description: %s\n", repo.Description)
	}

	b.WriteString("\nThe documentation must contain exactly these sections, in order, as level-2 headings:\n")
	for i, s := range documentationSections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}

	b.WriteString("\nRepository files:\n")
	writeFilePreviews(&b, files, maxPromptFiles)

	b.WriteString("\nWrite the documentation now. Output markdown only, no preamble.\n")
	return b.String()
}

func buildQuestionPrompt(question string, qctx QuestionContext) string {
	var b strings.Builder
	b.WriteString("You are answering a developer's question about a GitHub repository. Base your answer strictly on the context below; say so when the context is insufficient.\n")

	b.WriteString("\nRepository files:\n")
	writeFilePreviews(&b, qctx.Files, maxQuestionFiles)

	if qctx.Documentation != "" {
		b.WriteString("\nExisting project documentation (excerpt):\n")
		b.WriteString(truncate(qctx.Documentation, filePreviewChars))
		b.WriteString("\n")
	}

	if len(qctx.Commits) > 0 && HasHistoryKeywords(question) {
		b.WriteString("\nCommit history digest:\n")
		writeCommitDigest(&b, qctx.Commits)
	}

	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", question)
	return b.String()
}

func buildCommitSummaryPrompt(diff, message string) string {
	var b strings.Builder
	b.WriteString("Summarize the following commit in two or three plain sentences for a project dashboard. Focus on what changed and why it matters, not on line counts.\n")
	fmt.Fprintf(&b, "\nCommit message:\n%s\n", message)
	fmt.Fprintf(&b, "\nDiff:\n%s\n", truncate(diff, 6000))
	return b.String()
}

func buildFileSummaryPrompt(path, fileContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Describe the purpose of the file %s in two sentences.\n", path)
	fmt.Fprintf(&b, "\nContent:\n%s\n", truncate(fileContent, filePreviewChars))
	return b.String()
}

func buildFAQPrompt(repoName string, files []model.RepoFile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a FAQ (8-10 question/answer pairs) a new developer would ask about the repository %s, based on the files below. Output markdown with '### Q:' headings.\n", repoName)
	b.WriteString("\nRepository files:\n")
	writeFilePreviews(&b, files, maxPromptFiles)
	return b.String()
}

func buildCodeQualityPrompt(files []model.RepoFile) string {
	var b strings.Builder
	b.WriteString("Review the code below for quality issues: structure, naming, error handling, duplication, missing tests. Output a markdown report grouped by file with concrete findings.\n")
	b.WriteString("\nRepository files:\n")
	writeFilePreviews(&b, files, maxPromptFiles)
	return b.String()
}

func writeFilePreviews(b *strings.Builder, files []model.RepoFile, maxCount int) {
	if len(files) > maxCount {
		files = files[:maxCount]
	}
	for _, f := range files {
		fmt.Fprintf(b, "\n--- %s ---\n%s\n", f.Path, truncate(f.Content, filePreviewChars))
	}
}

// writeCommitDigest summarizes history: the initial commit, the last
// digestCommits commits, the contributor set and the date range.
func writeCommitDigest(b *strings.Builder, commits []model.CommitSummary) {
	// Commits arrive newest-first.
	newest := commits[0]
	oldest := commits[len(commits)-1]

	fmt.Fprintf(b, "Earliest known commit: %s by %s on %s: %s\n",
		short(oldest.Hash), oldest.Author, oldest.Date.Format(time.DateOnly), firstLine(oldest.Message))
	fmt.Fprintf(b, "Date range: %s to %s, %d commits known\n",
		oldest.Date.Format(time.DateOnly), newest.Date.Format(time.DateOnly), len(commits))

	contributors := map[string]bool{}
	for _, c := range commits {
		if c.Author != "" {
			contributors[c.Author] = true
		}
	}
	names := make([]string, 0, len(contributors))
	for name := range contributors {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(b, "Contributors: %s\n", strings.Join(names, ", "))

	b.WriteString("Most recent commits:\n")
	recent := commits
	if len(recent) > digestCommits {
		recent = recent[:digestCommits]
	}
	for _, c := range recent {
		fmt.Fprintf(b, "- %s %s by %s (%s)\n",
			short(c.Hash), firstLine(c.Message), c.Author, c.Date.Format(time.DateOnly))
	}
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
