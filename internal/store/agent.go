package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/devcrewhq/crew/internal/core"
)

// AgentStatus is the reported liveness state of a worker agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentError   AgentStatus = "error"
	AgentStopped AgentStatus = "stopped"
	AgentOffline AgentStatus = "offline" // set by the reaper, never by the agent
)

// Agent is the durable record of a worker.
type Agent struct {
	ID             string
	ProjectID      string
	Specialty      core.Specialty
	Status         AgentStatus
	CurrentTaskID  string
	WorkspacePath  string
	BranchName     string
	TasksCompleted int
	TasksFailed    int
	CreatedAt      time.Time
	LastHeartbeat  *time.Time
}

// SaveAgent inserts or updates an agent record.
func (s *Store) SaveAgent(ctx context.Context, a *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = AgentIdle
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (
			id, project_id, specialty, status, current_task_id,
			workspace_path, branch_name, tasks_completed, tasks_failed,
			created_at, last_heartbeat
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			specialty = excluded.specialty,
			status = excluded.status,
			current_task_id = excluded.current_task_id,
			workspace_path = excluded.workspace_path,
			branch_name = excluded.branch_name,
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			last_heartbeat = excluded.last_heartbeat
	`,
		a.ID, a.ProjectID, string(a.Specialty), string(a.Status),
		nullableString(a.CurrentTaskID), nullableString(a.WorkspacePath),
		nullableString(a.BranchName), a.TasksCompleted, a.TasksFailed,
		a.CreatedAt, nullableTime(a.LastHeartbeat),
	)
	if err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}
	return nil
}

// GetAgent loads an agent by id. Returns nil when it does not exist.
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, specialty, status, current_task_id,
		       workspace_path, branch_name, tasks_completed, tasks_failed,
		       created_at, last_heartbeat
		FROM agents WHERE id = ?
	`, id)

	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent: %w", err)
	}
	return a, nil
}

// ListAgents returns all agent records for a project.
func (s *Store) ListAgents(ctx context.Context, projectID string) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, specialty, status, current_task_id,
		       workspace_path, branch_name, tasks_completed, tasks_failed,
		       created_at, last_heartbeat
		FROM agents WHERE project_id = ?
		ORDER BY created_at, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agents: %w", err)
	}
	return agents, nil
}

// SetAgentStatus updates the status and the task the agent is on. An empty
// taskID clears the assignment.
func (s *Store) SetAgentStatus(ctx context.Context, id string, status AgentStatus, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET status = ?, current_task_id = ? WHERE id = ?
	`, string(status), nullableString(taskID), id)
	if err != nil {
		return fmt.Errorf("updating agent status: %w", err)
	}
	return nil
}

// RecordAgentResult bumps the agent's per-outcome counter and clears the
// current task assignment.
func (s *Store) RecordAgentResult(ctx context.Context, id string, succeeded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE agents
		SET tasks_completed = tasks_completed + 1, current_task_id = NULL, status = 'idle'
		WHERE id = ?
	`
	if !succeeded {
		query = `
			UPDATE agents
			SET tasks_failed = tasks_failed + 1, current_task_id = NULL, status = 'idle'
			WHERE id = ?
		`
	}
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("recording agent result: %w", err)
	}
	return nil
}

// Heartbeat stamps the agent's liveness.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE agents SET last_heartbeat = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return nil
}

// StaleAgents returns agents whose last heartbeat predates cutoff and which
// are not already stopped or offline. Agents that never heartbeat are judged
// by their creation time.
func (s *Store) StaleAgents(ctx context.Context, projectID string, cutoff time.Time) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, specialty, status, current_task_id,
		       workspace_path, branch_name, tasks_completed, tasks_failed,
		       created_at, last_heartbeat
		FROM agents
		WHERE project_id = ?
		  AND status NOT IN ('stopped', 'offline')
		  AND COALESCE(last_heartbeat, created_at) < ?
	`, projectID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stale agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning stale agent: %w", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stale agents: %w", err)
	}
	return agents, nil
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var specialty, status string
	var currentTaskID, workspacePath, branchName sql.NullString
	var lastHeartbeat sql.NullTime

	err := row.Scan(
		&a.ID, &a.ProjectID, &specialty, &status, &currentTaskID,
		&workspacePath, &branchName, &a.TasksCompleted, &a.TasksFailed,
		&a.CreatedAt, &lastHeartbeat,
	)
	if err != nil {
		return nil, err
	}

	a.Specialty = core.Specialty(specialty)
	a.Status = AgentStatus(status)
	if currentTaskID.Valid {
		a.CurrentTaskID = currentTaskID.String
	}
	if workspacePath.Valid {
		a.WorkspacePath = workspacePath.String
	}
	if branchName.Valid {
		a.BranchName = branchName.String
	}
	a.LastHeartbeat = timePtr(lastHeartbeat)
	return &a, nil
}
