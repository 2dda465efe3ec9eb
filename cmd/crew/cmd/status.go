package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/queue"
	"github.com/devcrewhq/crew/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depths, projects and agents",
	RunE:  runStatusCmd,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

// statusSnapshot is the status command's output shape. The web status
// endpoint reports the same data for dashboards.
type statusSnapshot struct {
	Queues   map[string]int64 `json:"queues"`
	Pending  int64            `json:"pending"`
	Projects []projectStatus  `json:"projects,omitempty"`
}

type projectStatus struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Status         string        `json:"status"`
	TotalTasks     int           `json:"total_tasks"`
	CompletedTasks int           `json:"completed_tasks"`
	FailedTasks    int           `json:"failed_tasks"`
	Agents         []agentStatus `json:"agents,omitempty"`
}

type agentStatus struct {
	ID             string `json:"id"`
	Specialty      string `json:"specialty"`
	Status         string `json:"status"`
	CurrentTask    string `json:"current_task,omitempty"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
}

func runStatusCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	snapshot, err := collectStatus(ctx, queue.New(rdb, logger), st)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}
	renderStatus(out, snapshot)
	return nil
}

func collectStatus(ctx context.Context, q *queue.Queue, st *store.Store) (*statusSnapshot, error) {
	snapshot := &statusSnapshot{Queues: make(map[string]int64)}

	for _, specialty := range core.Specialties() {
		depth, err := q.QueueDepth(ctx, specialty)
		if err != nil {
			return nil, err
		}
		snapshot.Queues[string(specialty)] = depth
	}

	pending, err := q.PendingCount(ctx)
	if err != nil {
		return nil, err
	}
	snapshot.Pending = pending

	projects, err := st.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		view := projectStatus{
			ID:             p.ID,
			Name:           p.Name,
			Status:         string(p.Status),
			TotalTasks:     p.TotalTasks,
			CompletedTasks: p.CompletedTasks,
			FailedTasks:    p.FailedTasks,
		}
		agents, err := st.ListAgents(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range agents {
			view.Agents = append(view.Agents, agentStatus{
				ID:             a.ID,
				Specialty:      string(a.Specialty),
				Status:         string(a.Status),
				CurrentTask:    a.CurrentTaskID,
				TasksCompleted: a.TasksCompleted,
				TasksFailed:    a.TasksFailed,
			})
		}
		snapshot.Projects = append(snapshot.Projects, view)
	}
	return snapshot, nil
}

func renderStatus(out io.Writer, snapshot *statusSnapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tREADY")
	fmt.Fprintln(w, "-----\t-----")
	for _, specialty := range core.Specialties() {
		fmt.Fprintf(w, "%s\t%d\n", specialty, snapshot.Queues[string(specialty)])
	}
	w.Flush()
	fmt.Fprintf(out, "Blocked on prerequisites: %d\n", snapshot.Pending)

	if len(snapshot.Projects) == 0 {
		fmt.Fprintln(out, "\nNo projects")
		return
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tNAME\tSTATUS\tDONE\tFAILED\tTOTAL")
	fmt.Fprintln(w, "-------\t----\t------\t----\t------\t-----")
	for _, p := range snapshot.Projects {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
			p.ID, p.Name, p.Status, p.CompletedTasks, p.FailedTasks, p.TotalTasks)
	}
	w.Flush()

	for _, p := range snapshot.Projects {
		if len(p.Agents) == 0 {
			continue
		}
		fmt.Fprintf(out, "\nAgents for %s:\n", p.Name)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "AGENT\tSPECIALTY\tSTATUS\tTASK\tDONE\tFAILED")
		fmt.Fprintln(w, "-----\t---------\t------\t----\t----\t------")
		for _, a := range p.Agents {
			task := a.CurrentTask
			if task == "" {
				task = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
				a.ID, a.Specialty, a.Status, task, a.TasksCompleted, a.TasksFailed)
		}
		w.Flush()
	}
}
