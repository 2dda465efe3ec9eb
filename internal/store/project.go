package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ProjectStatus is the lifecycle state of an orchestration run.
type ProjectStatus string

const (
	ProjectInitializing ProjectStatus = "initializing"
	ProjectRunning      ProjectStatus = "running"
	ProjectCompleted    ProjectStatus = "completed"
	ProjectFailed       ProjectStatus = "failed"
	ProjectAborted      ProjectStatus = "aborted"
)

// Project is the durable record of one orchestration run.
type Project struct {
	ID             string
	Name           string
	Description    string
	Path           string
	Status         ProjectStatus
	Requirements   string
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	MaxAgents      int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// SaveProject inserts or updates a project.
func (s *Store) SaveProject(ctx context.Context, p *Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = ProjectInitializing
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (
			id, name, description, project_path, status, requirements,
			total_tasks, completed_tasks, failed_tasks, max_agents,
			created_at, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			project_path = excluded.project_path,
			status = excluded.status,
			requirements = excluded.requirements,
			total_tasks = excluded.total_tasks,
			completed_tasks = excluded.completed_tasks,
			failed_tasks = excluded.failed_tasks,
			max_agents = excluded.max_agents,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		p.ID, p.Name, nullableString(p.Description), p.Path, string(p.Status),
		nullableString(p.Requirements), p.TotalTasks, p.CompletedTasks,
		p.FailedTasks, p.MaxAgents, p.CreatedAt,
		nullableTime(p.StartedAt), nullableTime(p.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting project: %w", err)
	}
	return nil
}

// GetProject loads a project by id. Returns nil when it does not exist.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, project_path, status, requirements,
		       total_tasks, completed_tasks, failed_tasks, max_agents,
		       created_at, started_at, completed_at
		FROM projects WHERE id = ?
	`, id)

	p, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects, most recently created first.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, project_path, status, requirements,
		       total_tasks, completed_tasks, failed_tasks, max_agents,
		       created_at, started_at, completed_at
		FROM projects
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning project: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating projects: %w", err)
	}
	return projects, nil
}

// SetProjectStatus moves a project through its lifecycle. Entering running
// stamps started_at once; terminal states stamp completed_at.
func (s *Store) SetProjectStatus(ctx context.Context, id string, status ProjectStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var err error
	switch status {
	case ProjectRunning:
		_, err = s.db.ExecContext(ctx, `
			UPDATE projects
			SET status = ?, started_at = COALESCE(started_at, ?)
			WHERE id = ?
		`, string(status), now, id)
	case ProjectCompleted, ProjectFailed, ProjectAborted:
		_, err = s.db.ExecContext(ctx, `
			UPDATE projects
			SET status = ?, completed_at = ?
			WHERE id = ?
		`, string(status), now, id)
	default:
		_, err = s.db.ExecContext(ctx,
			"UPDATE projects SET status = ? WHERE id = ?", string(status), id)
	}
	if err != nil {
		return fmt.Errorf("updating project status: %w", err)
	}
	return nil
}

// BumpProjectProgress adds deltas to the completed/failed task counters.
func (s *Store) BumpProjectProgress(ctx context.Context, id string, completedDelta, failedDelta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET completed_tasks = completed_tasks + ?,
		    failed_tasks = failed_tasks + ?
		WHERE id = ?
	`, completedDelta, failedDelta, id)
	if err != nil {
		return fmt.Errorf("updating project progress: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	var p Project
	var description, requirements sql.NullString
	var status string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&p.ID, &p.Name, &description, &p.Path, &status, &requirements,
		&p.TotalTasks, &p.CompletedTasks, &p.FailedTasks, &p.MaxAgents,
		&p.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Status = ProjectStatus(status)
	if description.Valid {
		p.Description = description.String
	}
	if requirements.Valid {
		p.Requirements = requirements.String
	}
	p.StartedAt = timePtr(startedAt)
	p.CompletedAt = timePtr(completedAt)
	return &p, nil
}
