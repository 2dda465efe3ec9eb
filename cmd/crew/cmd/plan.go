package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/llm"
	"github.com/devcrewhq/crew/internal/service/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <brief>",
	Short: "Decompose a project brief into a task plan",
	Long: `Ask the model to decompose a project brief into specialist tasks.

The resulting plan lists every task with its specialty, file footprint and
dependencies, plus the execution schedule: which tasks can run in parallel,
the critical path, and the expected speedup over sequential work.

Save the plan with --output to review or edit it before running it with
'crew run --plan'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlanCmd,
}

var (
	planContextFile string
	planOutputFile  string
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planContextFile, "context", "", "File with extra project context for the planner")
	planCmd.Flags().StringVarP(&planOutputFile, "output", "o", "", "Write the plan to a YAML file")
}

func runPlanCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	brief := strings.Join(args, " ")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	projectContext := ""
	if planContextFile != "" {
		data, err := os.ReadFile(planContextFile)
		if err != nil {
			return fmt.Errorf("reading context file: %w", err)
		}
		projectContext = string(data)
	}

	client, err := llm.New(ctx, llm.Options{
		Profile:           cfg.LLM.Profile,
		Region:            cfg.LLM.Region,
		ModelID:           cfg.LLM.ModelID,
		MaxTokens:         cfg.LLM.MaxTokens,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
	if err != nil {
		return err
	}

	p := planner.New(client, logger)
	plan, err := p.AnalyzeRequirements(ctx, brief, projectContext)
	if err != nil {
		return err
	}

	g, err := p.BuildGraph(plan)
	if err != nil {
		return err
	}
	exec, err := p.ExecutionPlan(g)
	if err != nil {
		return err
	}

	renderPlan(cmd.OutOrStdout(), plan, exec)

	if planOutputFile != "" {
		if err := writePlanFile(planOutputFile, plan); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nPlan written to %s\n", planOutputFile)
	}
	return nil
}

// renderPlan prints the task table and the derived schedule.
func renderPlan(out io.Writer, plan *core.Plan, exec *core.ExecutionPlan) {
	fmt.Fprintf(out, "Project: %s\n", plan.ProjectName)
	if plan.Description != "" {
		fmt.Fprintf(out, "%s\n", plan.Description)
	}
	fmt.Fprintf(out, "Tasks: %d, estimated %.1fh\n\n", len(plan.Tasks), plan.EstimatedTotalHours)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSPECIALTY\tTITLE\tHOURS\tDEPENDS ON")
	fmt.Fprintln(w, "--\t---------\t-----\t-----\t----------")
	for _, t := range plan.Tasks {
		deps := "-"
		if len(t.Dependencies) > 0 {
			deps = strings.Join(t.Dependencies, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%s\n",
			t.ID, t.Specialty, t.Title, t.EstimatedHours, deps)
	}
	w.Flush()

	fmt.Fprintln(out)
	for _, level := range exec.Levels {
		fmt.Fprintf(out, "Level %d: %s (%.1fh)\n",
			level.LevelNumber, strings.Join(level.TaskIDs, ", "), level.EstimatedHours)
	}
	if len(exec.CriticalPath.TaskIDs) > 0 {
		fmt.Fprintf(out, "Critical path: %s (%.1fh)\n",
			strings.Join(exec.CriticalPath.TaskIDs, " -> "), exec.CriticalPath.TotalHours)
	}
	fmt.Fprintf(out, "Parallel speedup: %.2fx\n", exec.Statistics.SpeedupFactor)
}

func writePlanFile(path string, plan *core.Plan) error {
	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encoding plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing plan file: %w", err)
	}
	return nil
}

func loadPlanFile(path string) (*core.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}
	var plan core.Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan file: %w", err)
	}
	if err := planner.ValidatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}
