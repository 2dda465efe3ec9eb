package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/events"
	"github.com/devcrewhq/crew/internal/store"
)

type statusResponse struct {
	Queues   map[string]int64 `json:"queues,omitempty"`
	Pending  int64            `json:"pending"`
	Projects []projectView    `json:"projects,omitempty"`
	Agents   []agentView      `json:"agents,omitempty"`
	Events   []events.Event   `json:"events,omitempty"`
}

type projectView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	FailedTasks    int    `json:"failed_tasks"`
}

type agentView struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Specialty      string     `json:"specialty"`
	Status         string     `json:"status"`
	Branch         string     `json:"branch,omitempty"`
	CurrentTask    string     `json:"current_task,omitempty"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksFailed    int        `json:"tasks_failed"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "crew",
		"version": s.version,
		"status":  "ok",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleStatus assembles the orchestration snapshot from whichever data
// sources the server was given.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var resp statusResponse

	if s.queue != nil {
		depths := make(map[string]int64, len(core.Specialties()))
		for _, specialty := range core.Specialties() {
			n, err := s.queue.QueueDepth(ctx, specialty)
			if err != nil {
				s.fail(w, "queue depth", err)
				return
			}
			depths[string(specialty)] = n
		}
		resp.Queues = depths

		pending, err := s.queue.PendingCount(ctx)
		if err != nil {
			s.fail(w, "pending count", err)
			return
		}
		resp.Pending = pending
	}

	if s.store != nil {
		projects, err := s.store.ListProjects(ctx)
		if err != nil {
			s.fail(w, "list projects", err)
			return
		}
		for _, p := range projects {
			resp.Projects = append(resp.Projects, projectView{
				ID:             p.ID,
				Name:           p.Name,
				Status:         string(p.Status),
				TotalTasks:     p.TotalTasks,
				CompletedTasks: p.CompletedTasks,
				FailedTasks:    p.FailedTasks,
			})

			agents, err := s.store.ListAgents(ctx, p.ID)
			if err != nil {
				s.fail(w, "list agents", err)
				return
			}
			for _, a := range agents {
				resp.Agents = append(resp.Agents, agentViewOf(a))
			}
		}
	}

	if s.recorder != nil {
		resp.Events = s.recorder.Recent()
	}

	writeJSON(w, http.StatusOK, resp)
}

func agentViewOf(a store.Agent) agentView {
	return agentView{
		ID:             a.ID,
		ProjectID:      a.ProjectID,
		Specialty:      string(a.Specialty),
		Status:         string(a.Status),
		Branch:         a.BranchName,
		CurrentTask:    a.CurrentTaskID,
		TasksCompleted: a.TasksCompleted,
		TasksFailed:    a.TasksFailed,
		LastHeartbeat:  a.LastHeartbeat,
	}
}

func (s *Server) fail(w http.ResponseWriter, what string, err error) {
	s.logger.Error("status snapshot failed", "source", what, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
