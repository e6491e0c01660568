package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateProject creates a project. Fails with ErrConflict when the name
// exists.
func (s *Store) CreateProject(ctx context.Context, name, description string) (*Project, error) {
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	if err := s.acquireWriter(ctx); err != nil {
		return nil, err
	}
	defer s.releaseWriter()

	p := &Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at)
		VALUES (?, ?, NULLIF(?, ''), ?)
	`, p.ID, p.Name, p.Description, p.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("project %q: %w", name, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description, ''), created_at
		FROM projects WHERE id = ?
	`, id)
	var p Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description, ''), created_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// DeleteProject removes a project. Agents, runs, and events cascade
// atomically.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateAgent creates an agent. Fails with ErrConflict on a duplicate
// (project, name) pair.
func (s *Store) CreateAgent(ctx context.Context, projectID, name, target string, chaosConfig json.RawMessage) (*Agent, error) {
	if name == "" || target == "" {
		return nil, fmt.Errorf("agent name and target are required")
	}
	if err := s.acquireWriter(ctx); err != nil {
		return nil, err
	}
	defer s.releaseWriter()

	a := &Agent{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Name:        name,
		Target:      target,
		ChaosConfig: chaosConfig,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, project_id, name, target, chaos_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.ProjectID, a.Name, a.Target, nullBytes(a.ChaosConfig), a.CreatedAt)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("agent %q in project %s: %w", name, projectID, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

// GetAgent fetches an agent by id.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, target, COALESCE(chaos_config, ''), created_at
		FROM agents WHERE id = ?
	`, id)
	return scanAgent(row)
}

// ListAgents returns the agents of a project, newest first.
func (s *Store) ListAgents(ctx context.Context, projectID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, target, COALESCE(chaos_config, ''), created_at
		FROM agents WHERE project_id = ? ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent; its runs and events cascade.
func (s *Store) DeleteAgent(ctx context.Context, id string) error {
	if err := s.acquireWriter(ctx); err != nil {
		return err
	}
	defer s.releaseWriter()

	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var chaos string
	if err := row.Scan(&a.ID, &a.ProjectID, &a.Name, &a.Target, &chaos, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent: %w", ErrNotFound)
		}
		return nil, err
	}
	if chaos != "" {
		a.ChaosConfig = json.RawMessage(chaos)
	}
	return &a, nil
}
