// internal/model/models.go
package model

import (
	"database/sql"
	"time"
)

// LinkStatus is the lifecycle state of a repository link.
type LinkStatus string

const (
	StatusConnected    LinkStatus = "connected"
	StatusSyncing      LinkStatus = "syncing"
	StatusError        LinkStatus = "error"
	StatusDisconnected LinkStatus = "disconnected"
)

// RepositoryLink is the persisted association between a project and a GitHub
// repository. At most one active link exists per project.
type RepositoryLink struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	GithubURL string `json:"github_url"` // normalized lowercase
	Owner     string `json:"owner"`
	Name      string `json:"name"`
	Branch    string `json:"branch"`
	// AccessToken is an opaque secret. It is handed to the GitHub client for
	// the fetch session that needs it and never appears in prompts or logs.
	AccessToken  string       `json:"-"`
	Status       LinkStatus   `json:"status"`
	Error        string       `json:"error,omitempty"`
	LastSyncedAt sql.NullTime `json:"last_synced_at"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Documentation is the single AI-generated artifact describing a linked
// repository. Regeneration overwrites, never appends.
type Documentation struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	Content        string    `json:"content"`
	FileStructure  string    `json:"file_structure"`
	MermaidDiagram string    `json:"mermaid_diagram"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// CommitFile is the per-file diff stat attached to an enriched commit.
type CommitFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"` // added, removed, modified, renamed
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// CommitSummary is a commit enriched with file-level diff stats. AISummary is
// computed lazily per user request and stays nil after a plain fetch.
type CommitSummary struct {
	Hash         string       `json:"hash"`
	Message      string       `json:"message"`
	Author       string       `json:"author"`
	AuthorAvatar string       `json:"author_avatar,omitempty"`
	Date         time.Time    `json:"date"`
	URL          string       `json:"url"`
	AISummary    *string      `json:"ai_summary"`
	FilesChanged int          `json:"files_changed"`
	Additions    int          `json:"additions"`
	Deletions    int          `json:"deletions"`
	Files        []CommitFile `json:"files,omitempty"`
}

// RepoFile is a source file fetched from a linked repository.
type RepoFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// RepoInfo is the repository metadata embedded into generation prompts.
type RepoInfo struct {
	Owner       string `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Branch      string `json:"branch"`
}

// QAExchange is a transient question/answer pair. Never persisted.
type QAExchange struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Timestamp time.Time `json:"timestamp"`
}

// Project is the owning entity a repository link belongs to.
type Project struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}
