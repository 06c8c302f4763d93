// internal/store/store.go

// Package store implements PostgreSQL persistence for projects, memberships,
// sessions, repository links and documentation records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-docs-service/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Querier is the persistence interface the rest of the service depends on.
// Kept as an interface so orchestration tests can mock it.
type Querier interface {
	GetProject(ctx context.Context, id string) (model.Project, error)
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
	GetUserIDBySession(ctx context.Context, token string) (string, error)

	GetLinkByProject(ctx context.Context, projectID string) (model.RepositoryLink, error)
	CreateLink(ctx context.Context, link model.RepositoryLink) (model.RepositoryLink, error)
	UpdateLink(ctx context.Context, link model.RepositoryLink) (model.RepositoryLink, error)
	UpdateLinkStatus(ctx context.Context, projectID string, status model.LinkStatus, errMsg string) error
	TouchLinkSynced(ctx context.Context, projectID string) error
	DeleteLink(ctx context.Context, projectID string) error

	GetDocumentation(ctx context.Context, projectID string) (model.Documentation, error)
	UpsertDocumentation(ctx context.Context, doc model.Documentation) (model.Documentation, error)
	DeleteDocumentation(ctx context.Context, projectID string) error
}

// Store implements Querier using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects & membership ---

func (s *Store) GetProject(ctx context.Context, id string) (model.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, name, created_at FROM projects WHERE id = $1`, id)

	var p model.Project
	if err := row.Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Project{}, fmt.Errorf("get project %s: %w", id, ErrNotFound)
		}
		return model.Project{}, fmt.Errorf("get project %s: %w", id, err)
	}
	return p, nil
}

// IsMember reports whether the user belongs to the project's workspace.
// Authorization is re-derived on every call; nothing is cached.
func (s *Store) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM memberships m
			JOIN projects p ON p.workspace_id = m.workspace_id
			WHERE p.id = $1 AND m.user_id = $2
		)`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *Store) GetUserIDBySession(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id FROM sessions WHERE token = $1 AND expires_at > now()`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("session lookup: %w", ErrNotFound)
		}
		return "", fmt.Errorf("session lookup: %w", err)
	}
	return userID, nil
}

// --- Repository links ---

const linkColumns = `id, project_id, github_url, owner, name, branch, access_token, status, error, last_synced_at, created_at, updated_at`

func (s *Store) GetLinkByProject(ctx context.Context, projectID string) (model.RepositoryLink, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+linkColumns+` FROM repository_links WHERE project_id = $1`, projectID)

	link, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RepositoryLink{}, fmt.Errorf("get link for project %s: %w", projectID, ErrNotFound)
		}
		return model.RepositoryLink{}, fmt.Errorf("get link for project %s: %w", projectID, err)
	}
	return link, nil
}

func (s *Store) CreateLink(ctx context.Context, link model.RepositoryLink) (model.RepositoryLink, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO repository_links (id, project_id, github_url, owner, name, branch, access_token, status, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+linkColumns,
		link.ID, link.ProjectID, link.GithubURL, link.Owner, link.Name, link.Branch,
		link.AccessToken, link.Status, link.Error)

	created, err := scanLink(row)
	if err != nil {
		return model.RepositoryLink{}, fmt.Errorf("create link: %w", err)
	}
	return created, nil
}

func (s *Store) UpdateLink(ctx context.Context, link model.RepositoryLink) (model.RepositoryLink, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE repository_links
		 SET github_url = $2, owner = $3, name = $4, branch = $5, access_token = $6,
		     status = $7, error = $8, updated_at = now()
		 WHERE project_id = $1
		 RETURNING `+linkColumns,
		link.ProjectID, link.GithubURL, link.Owner, link.Name, link.Branch,
		link.AccessToken, link.Status, link.Error)

	updated, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RepositoryLink{}, fmt.Errorf("update link: %w", ErrNotFound)
		}
		return model.RepositoryLink{}, fmt.Errorf("update link: %w", err)
	}
	return updated, nil
}

func (s *Store) UpdateLinkStatus(ctx context.Context, projectID string, status model.LinkStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE repository_links SET status = $2, error = $3, updated_at = now() WHERE project_id = $1`,
		projectID, status, errMsg)
	if err != nil {
		return fmt.Errorf("update link status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update link status: %w", ErrNotFound)
	}
	return nil
}

func (s *Store) TouchLinkSynced(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE repository_links SET last_synced_at = now(), updated_at = now() WHERE project_id = $1`,
		projectID)
	if err != nil {
		return fmt.Errorf("touch link sync time: %w", err)
	}
	return nil
}

func (s *Store) DeleteLink(ctx context.Context, projectID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM repository_links WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete link: %w", ErrNotFound)
	}
	return nil
}

// --- Documentation ---

func (s *Store) GetDocumentation(ctx context.Context, projectID string) (model.Documentation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, project_id, content, file_structure, mermaid_diagram, generated_at
		 FROM documentation WHERE project_id = $1`, projectID)

	var d model.Documentation
	err := row.Scan(&d.ID, &d.ProjectID, &d.Content, &d.FileStructure, &d.MermaidDiagram, &d.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Documentation{}, fmt.Errorf("get documentation for project %s: %w", projectID, ErrNotFound)
		}
		return model.Documentation{}, fmt.Errorf("get documentation for project %s: %w", projectID, err)
	}
	return d, nil
}

// UpsertDocumentation overwrites the single documentation record for the
// project. Regeneration replaces, it never merges.
func (s *Store) UpsertDocumentation(ctx context.Context, doc model.Documentation) (model.Documentation, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO documentation (id, project_id, content, file_structure, mermaid_diagram, generated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (project_id) DO UPDATE
		 SET content = excluded.content,
		     file_structure = excluded.file_structure,
		     mermaid_diagram = excluded.mermaid_diagram,
		     generated_at = now()
		 RETURNING id, project_id, content, file_structure, mermaid_diagram, generated_at`,
		doc.ID, doc.ProjectID, doc.Content, doc.FileStructure, doc.MermaidDiagram)

	var d model.Documentation
	err := row.Scan(&d.ID, &d.ProjectID, &d.Content, &d.FileStructure, &d.MermaidDiagram, &d.GeneratedAt)
	if err != nil {
		return model.Documentation{}, fmt.Errorf("upsert documentation: %w", err)
	}
	return d, nil
}

func (s *Store) DeleteDocumentation(ctx context.Context, projectID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM documentation WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete documentation: %w", err)
	}
	return nil
}

func scanLink(row pgx.Row) (model.RepositoryLink, error) {
	var l model.RepositoryLink
	err := row.Scan(&l.ID, &l.ProjectID, &l.GithubURL, &l.Owner, &l.Name, &l.Branch,
		&l.AccessToken, &l.Status, &l.Error, &l.LastSyncedAt, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}
