// Package queue implements the dependency-aware task queue on Redis. Tasks
// whose prerequisites are all completed sit in a per-specialty FIFO list;
// the rest park in a pending set until the last prerequisite completes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

// Key layout. Everything lives in Redis so queue state survives restarts:
//
//	queue:<specialty>   FIFO list of ready task ids (LPUSH in, BRPOP out)
//	task:<id>           hash of task fields, result fields added on completion
//	task:<id>:status    pending | in_progress | completed | failed
//	deps:<id>           set of unmet prerequisite ids
//	pending             set of task ids holding for prerequisites
const pendingKey = "pending"

func queueKey(specialty core.Specialty) string { return "queue:" + string(specialty) }
func taskKey(id string) string                 { return "task:" + id }
func statusKey(id string) string               { return "task:" + id + ":status" }
func depsKey(id string) string                 { return "deps:" + id }

// Placement and promotion both race concurrent completers, so each runs as
// one server-side script. Placement re-checks prerequisite statuses inside
// the script; promotion removes the completed prerequisite and moves the
// dependent to its ready queue only when it wins the removal from pending,
// which makes promotion exactly-once however many completers observe it.
var (
	placeScript = redis.NewScript(`
local unmet = 0
for i = 2, #ARGV do
	if redis.call("get", "task:" .. ARGV[i] .. ":status") ~= "completed" then
		redis.call("sadd", KEYS[1], ARGV[i])
		unmet = unmet + 1
	end
end
if unmet == 0 then
	redis.call("lpush", KEYS[3], ARGV[1])
else
	redis.call("sadd", KEYS[2], ARGV[1])
end
return unmet`)

	promoteScript = redis.NewScript(`
redis.call("srem", KEYS[1], ARGV[1])
if redis.call("scard", KEYS[1]) == 0 and redis.call("srem", KEYS[2], ARGV[2]) == 1 then
	redis.call("lpush", KEYS[3], ARGV[2])
	return 1
end
return 0`)
)

// Queue is the Redis task queue. Safe for concurrent use; all state lives
// server-side.
type Queue struct {
	client *redis.Client
	logger *logging.Logger
}

// New creates a queue over an existing Redis client.
func New(client *redis.Client, logger *logging.Logger) *Queue {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue registers a task and places it: straight onto its specialty queue
// when every prerequisite is already completed, otherwise into the pending
// set with its unmet prerequisites recorded.
func (q *Queue) Enqueue(ctx context.Context, task *core.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	fields, err := taskFields(task)
	if err != nil {
		return err
	}

	pipe := q.client.Pipeline()
	pipe.HSet(ctx, taskKey(task.ID), fields)
	pipe.Set(ctx, statusKey(task.ID), string(core.TaskStatusPending), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	args := make([]interface{}, 0, len(task.Dependencies)+1)
	args = append(args, task.ID)
	for _, dep := range task.Dependencies {
		args = append(args, dep)
	}
	keys := []string{depsKey(task.ID), pendingKey, queueKey(task.Specialty)}

	unmet, err := placeScript.Run(ctx, q.client, keys, args...).Int()
	if err != nil {
		return core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	if unmet > 0 {
		q.logger.Debug("task parked on prerequisites",
			"task_id", task.ID, "specialty", task.Specialty, "unmet", unmet)
	} else {
		q.logger.Debug("task enqueued",
			"task_id", task.ID, "specialty", task.Specialty)
	}
	return nil
}

// Dequeue blocks up to timeout for the next ready task of the given
// specialty, advancing it to in_progress. A quiet timeout returns (nil, nil).
func (q *Queue) Dequeue(ctx context.Context, specialty core.Specialty, timeout time.Duration) (*core.Task, error) {
	vals, err := q.client.BRPop(ctx, timeout, queueKey(specialty)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	id := vals[1]
	task, err := q.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := q.client.Set(ctx, statusKey(id), string(core.TaskStatusInProgress), 0).Err(); err != nil {
		return nil, core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	q.logger.Debug("task dequeued", "task_id", id, "specialty", specialty)
	return task, nil
}

// MarkCompleted records the terminal completed status plus result fields,
// then promotes any pending dependent whose last prerequisite this was.
func (q *Queue) MarkCompleted(ctx context.Context, id string, result *core.TaskResult) error {
	fields := map[string]interface{}{
		"completed_at": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if result != nil {
		fields["commit_id"] = result.CommitID
		modified, err := json.Marshal(result.FilesModified)
		if err != nil {
			return core.ErrExecution(core.CodeFileOperationFailed,
				"encoding task result").WithCause(err)
		}
		fields["files_modified"] = string(modified)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, statusKey(id), string(core.TaskStatusCompleted), 0)
	pipe.HSet(ctx, taskKey(id), fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	return q.promoteDependents(ctx, id)
}

// MarkFailed records the terminal failed status with the error text. No
// promotion happens: dependents stay parked until an operator intervenes.
func (q *Queue) MarkFailed(ctx context.Context, id, errText string) error {
	pipe := q.client.Pipeline()
	pipe.Set(ctx, statusKey(id), string(core.TaskStatusFailed), 0)
	pipe.HSet(ctx, taskKey(id), map[string]interface{}{
		"error":     errText,
		"failed_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	q.logger.Warn("task failed", "task_id", id, "error", errText)
	return nil
}

func (q *Queue) promoteDependents(ctx context.Context, completedID string) error {
	members, err := q.client.SMembers(ctx, pendingKey).Result()
	if err != nil {
		return core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	for _, member := range members {
		waiting, err := q.client.SIsMember(ctx, depsKey(member), completedID).Result()
		if err != nil {
			return core.ErrNetwork(core.CodeInfraUnavailable,
				"queue backend unavailable").WithCause(err)
		}
		if !waiting {
			continue
		}

		specialty, err := q.client.HGet(ctx, taskKey(member), "specialty").Result()
		if err != nil {
			return core.ErrNetwork(core.CodeInfraUnavailable,
				"queue backend unavailable").WithCause(err)
		}

		keys := []string{depsKey(member), pendingKey, queueKey(core.Specialty(specialty))}
		promoted, err := promoteScript.Run(ctx, q.client, keys, completedID, member).Int()
		if err != nil {
			return core.ErrNetwork(core.CodeInfraUnavailable,
				"queue backend unavailable").WithCause(err)
		}
		if promoted == 1 {
			q.logger.Info("task promoted",
				"task_id", member, "specialty", specialty, "unblocked_by", completedID)
		}
	}
	return nil
}

// Requeue returns a failed task to circulation. The task re-enters through
// the normal placement check, so prerequisites that are still incomplete
// park it again. This is an operator override of the terminal failed state.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	status, err := q.Status(ctx, id)
	if err != nil {
		return err
	}
	if status != core.TaskStatusFailed {
		return core.ErrState("TASK_NOT_FAILED",
			fmt.Sprintf("task %s is %s; only failed tasks can be requeued", id, status))
	}

	task, err := q.load(ctx, id)
	if err != nil {
		return err
	}

	if err := q.client.HDel(ctx, taskKey(id), "error", "failed_at").Err(); err != nil {
		return core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}

	q.logger.Info("task requeued", "task_id", id, "specialty", task.Specialty)
	return q.Enqueue(ctx, task)
}

// Status returns the current task status.
func (q *Queue) Status(ctx context.Context, id string) (core.TaskStatus, error) {
	val, err := q.client.Get(ctx, statusKey(id)).Result()
	if err == redis.Nil {
		return "", core.ErrNotFound("task", id)
	}
	if err != nil {
		return "", core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}
	return core.TaskStatus(val), nil
}

// QueueDepth returns how many ready tasks wait on one specialty queue.
func (q *Queue) QueueDepth(ctx context.Context, specialty core.Specialty) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey(specialty)).Result()
	if err != nil {
		return 0, core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}
	return n, nil
}

// PendingCount returns how many tasks are parked on prerequisites.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.client.SCard(ctx, pendingKey).Result()
	if err != nil {
		return 0, core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}
	return n, nil
}

// ClearQueue drops every ready task from one specialty queue and returns
// how many were dropped. Parked tasks are untouched.
func (q *Queue) ClearQueue(ctx context.Context, specialty core.Specialty) (int64, error) {
	key := queueKey(specialty)
	n, err := q.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}
	if err := q.client.Del(ctx, key).Err(); err != nil {
		return 0, core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}
	if n > 0 {
		q.logger.Info("queue cleared", "specialty", specialty, "dropped", n)
	}
	return n, nil
}

func taskFields(task *core.Task) (map[string]interface{}, error) {
	create, err := json.Marshal(task.FilesToCreate)
	if err != nil {
		return nil, core.ErrExecution(core.CodeFileOperationFailed,
			"encoding task").WithCause(err)
	}
	modify, err := json.Marshal(task.FilesToModify)
	if err != nil {
		return nil, core.ErrExecution(core.CodeFileOperationFailed,
			"encoding task").WithCause(err)
	}
	deps, err := json.Marshal(task.Dependencies)
	if err != nil {
		return nil, core.ErrExecution(core.CodeFileOperationFailed,
			"encoding task").WithCause(err)
	}
	return map[string]interface{}{
		"id":              task.ID,
		"title":           task.Title,
		"description":     task.Description,
		"specialty":       string(task.Specialty),
		"files_to_create": string(create),
		"files_to_modify": string(modify),
		"dependencies":    string(deps),
		"estimated_hours": strconv.FormatFloat(task.EstimatedHours, 'f', -1, 64),
		"project_id":      task.ProjectID,
		"created_at":      task.CreatedAt.UTC().Format(time.RFC3339Nano),
	}, nil
}

func (q *Queue) load(ctx context.Context, id string) (*core.Task, error) {
	fields, err := q.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, core.ErrNetwork(core.CodeInfraUnavailable,
			"queue backend unavailable").WithCause(err)
	}
	if len(fields) == 0 {
		return nil, core.ErrNotFound("task", id)
	}
	return taskFromFields(id, fields)
}

func taskFromFields(id string, fields map[string]string) (*core.Task, error) {
	task := &core.Task{
		ID:          id,
		Title:       fields["title"],
		Description: fields["description"],
		Specialty:   core.Specialty(fields["specialty"]),
		ProjectID:   fields["project_id"],
	}

	lists := []struct {
		raw string
		dst *[]string
	}{
		{fields["files_to_create"], &task.FilesToCreate},
		{fields["files_to_modify"], &task.FilesToModify},
		{fields["dependencies"], &task.Dependencies},
	}
	for _, l := range lists {
		if l.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(l.raw), l.dst); err != nil {
			return nil, core.ErrState("TASK_RECORD_CORRUPT",
				fmt.Sprintf("task %s has an unreadable field", id)).WithCause(err)
		}
	}

	if raw := fields["estimated_hours"]; raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, core.ErrState("TASK_RECORD_CORRUPT",
				fmt.Sprintf("task %s has an unreadable estimate", id)).WithCause(err)
		}
		task.EstimatedHours = hours
	}
	if raw := fields["created_at"]; raw != "" {
		created, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, core.ErrState("TASK_RECORD_CORRUPT",
				fmt.Sprintf("task %s has an unreadable timestamp", id)).WithCause(err)
		}
		task.CreatedAt = created
	}
	return task, nil
}
