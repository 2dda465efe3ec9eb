package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/devcrewhq/crew/internal/core"
)

// TaskRecord mirrors a task's queue state into the durable store, together
// with execution metadata the queue does not keep.
type TaskRecord struct {
	ID             string
	ProjectID      string
	Title          string
	Description    string
	Specialty      core.Specialty
	FilesToCreate  []string
	FilesToModify  []string
	Dependencies   []string
	EstimatedHours float64
	Status         core.TaskStatus
	Result         *core.TaskResult
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	AgentID        string
	CommitSHA      string
	ErrorMessage   string
}

// NewTaskRecord builds the initial record for a planned task.
func NewTaskRecord(t *core.Task) *TaskRecord {
	return &TaskRecord{
		ID:             t.ID,
		ProjectID:      t.ProjectID,
		Title:          t.Title,
		Description:    t.Description,
		Specialty:      t.Specialty,
		FilesToCreate:  t.FilesToCreate,
		FilesToModify:  t.FilesToModify,
		Dependencies:   t.Dependencies,
		EstimatedHours: t.EstimatedHours,
		Status:         core.TaskStatusPending,
		CreatedAt:      t.CreatedAt,
	}
}

// SaveTask inserts or updates a single task record.
func (s *Store) SaveTask(ctx context.Context, rec *TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertTask(ctx, tx, rec); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SaveTasks writes all records in one transaction. Used when a plan is
// persisted: either every task lands or none do.
func (s *Store) SaveTasks(ctx context.Context, tasks []*core.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, t := range tasks {
		if err := upsertTask(ctx, tx, NewTaskRecord(t)); err != nil {
			return fmt.Errorf("inserting task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, rec *TaskRecord) error {
	toCreateJSON, err := json.Marshal(rec.FilesToCreate)
	if err != nil {
		return fmt.Errorf("marshaling files to create: %w", err)
	}
	toModifyJSON, err := json.Marshal(rec.FilesToModify)
	if err != nil {
		return fmt.Errorf("marshaling files to modify: %w", err)
	}
	depsJSON, err := json.Marshal(rec.Dependencies)
	if err != nil {
		return fmt.Errorf("marshaling dependencies: %w", err)
	}

	var resultJSON []byte
	if rec.Result != nil {
		resultJSON, err = json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (
			id, project_id, title, description, specialty,
			files_to_create, files_to_modify, dependencies, estimated_hours,
			status, result_data, created_at, started_at, completed_at,
			agent_id, commit_sha, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			specialty = excluded.specialty,
			files_to_create = excluded.files_to_create,
			files_to_modify = excluded.files_to_modify,
			dependencies = excluded.dependencies,
			estimated_hours = excluded.estimated_hours,
			status = excluded.status,
			result_data = excluded.result_data,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			agent_id = excluded.agent_id,
			commit_sha = excluded.commit_sha,
			error_message = excluded.error_message
	`,
		rec.ID, rec.ProjectID, rec.Title, nullableString(rec.Description),
		string(rec.Specialty), string(toCreateJSON), string(toModifyJSON),
		string(depsJSON), rec.EstimatedHours, string(rec.Status),
		nullableString(string(resultJSON)), rec.CreatedAt,
		nullableTime(rec.StartedAt), nullableTime(rec.CompletedAt),
		nullableString(rec.AgentID), nullableString(rec.CommitSHA),
		nullableString(rec.ErrorMessage),
	)
	return err
}

// GetTask loads a task record by id. Returns nil when it does not exist.
func (s *Store) GetTask(ctx context.Context, id string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, specialty,
		       files_to_create, files_to_modify, dependencies, estimated_hours,
		       status, result_data, created_at, started_at, completed_at,
		       agent_id, commit_sha, error_message
		FROM tasks WHERE id = ?
	`, id)

	rec, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return rec, nil
}

// ListTasks returns all task records for a project in creation order.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, description, specialty,
		       files_to_create, files_to_modify, dependencies, estimated_hours,
		       status, result_data, created_at, started_at, completed_at,
		       agent_id, commit_sha, error_message
		FROM tasks WHERE project_id = ?
		ORDER BY created_at, id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return records, nil
}

// ListAgentTasks returns an agent's task records in the given status.
// The reaper uses this to find work stranded by a dead agent.
func (s *Store) ListAgentTasks(ctx context.Context, agentID string, status core.TaskStatus) ([]TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, title, description, specialty,
		       files_to_create, files_to_modify, dependencies, estimated_hours,
		       status, result_data, created_at, started_at, completed_at,
		       agent_id, commit_sha, error_message
		FROM tasks WHERE agent_id = ? AND status = ?
		ORDER BY created_at, id
	`, agentID, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing agent tasks: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent tasks: %w", err)
	}
	return records, nil
}

// MarkTaskStarted records that an agent picked the task up.
func (s *Store) MarkTaskStarted(ctx context.Context, id, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, agent_id = ?, started_at = ?
		WHERE id = ?
	`, string(core.TaskStatusInProgress), agentID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking task started: %w", err)
	}
	return nil
}

// MarkTaskCompleted stores the successful result.
func (s *Store) MarkTaskCompleted(ctx context.Context, id string, result *core.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var resultJSON []byte
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
	}

	commitSHA := ""
	if result != nil {
		commitSHA = result.CommitID
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, result_data = ?, commit_sha = ?, completed_at = ?
		WHERE id = ?
	`, string(core.TaskStatusCompleted), nullableString(string(resultJSON)),
		nullableString(commitSHA), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking task completed: %w", err)
	}
	return nil
}

// MarkTaskFailed stores the failure reason.
func (s *Store) MarkTaskFailed(ctx context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, string(core.TaskStatusFailed), nullableString(errMsg), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking task failed: %w", err)
	}
	return nil
}

// MarkTaskPending resets a task for another attempt. Clears the previous
// run's execution metadata so the record reflects the retry.
func (s *Store) MarkTaskPending(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, agent_id = NULL, commit_sha = NULL,
		    error_message = NULL, started_at = NULL, completed_at = NULL
		WHERE id = ?
	`, string(core.TaskStatusPending), id)
	if err != nil {
		return fmt.Errorf("marking task pending: %w", err)
	}
	return nil
}

// TaskCounts returns per-status task counts for a project.
func (s *Store) TaskCounts(ctx context.Context, projectID string) (map[core.TaskStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks
		WHERE project_id = ?
		GROUP BY status
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[core.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning task count: %w", err)
		}
		counts[core.TaskStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task counts: %w", err)
	}
	return counts, nil
}

func scanTask(row rowScanner) (*TaskRecord, error) {
	var rec TaskRecord
	var description, resultJSON sql.NullString
	var toCreateJSON, toModifyJSON, depsJSON sql.NullString
	var specialty, status string
	var startedAt, completedAt sql.NullTime
	var agentID, commitSHA, errorMessage sql.NullString

	err := row.Scan(
		&rec.ID, &rec.ProjectID, &rec.Title, &description, &specialty,
		&toCreateJSON, &toModifyJSON, &depsJSON, &rec.EstimatedHours,
		&status, &resultJSON, &rec.CreatedAt, &startedAt, &completedAt,
		&agentID, &commitSHA, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	rec.Specialty = core.Specialty(specialty)
	rec.Status = core.TaskStatus(status)
	if description.Valid {
		rec.Description = description.String
	}
	if agentID.Valid {
		rec.AgentID = agentID.String
	}
	if commitSHA.Valid {
		rec.CommitSHA = commitSHA.String
	}
	if errorMessage.Valid {
		rec.ErrorMessage = errorMessage.String
	}
	rec.StartedAt = timePtr(startedAt)
	rec.CompletedAt = timePtr(completedAt)

	if toCreateJSON.Valid && toCreateJSON.String != "" {
		if err := json.Unmarshal([]byte(toCreateJSON.String), &rec.FilesToCreate); err != nil {
			return nil, fmt.Errorf("unmarshaling files to create: %w", err)
		}
	}
	if toModifyJSON.Valid && toModifyJSON.String != "" {
		if err := json.Unmarshal([]byte(toModifyJSON.String), &rec.FilesToModify); err != nil {
			return nil, fmt.Errorf("unmarshaling files to modify: %w", err)
		}
	}
	if depsJSON.Valid && depsJSON.String != "" {
		if err := json.Unmarshal([]byte(depsJSON.String), &rec.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshaling dependencies: %w", err)
		}
	}
	if resultJSON.Valid && resultJSON.String != "" {
		rec.Result = &core.TaskResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling result: %w", err)
		}
	}

	return &rec, nil
}
