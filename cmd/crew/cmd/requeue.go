package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devcrewhq/crew/internal/queue"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue <task-id>",
	Short: "Return a failed task to circulation",
	Long: `Push a failed task back through the queue's dependency check.

Only failed tasks can be requeued. The task re-enters through normal
placement, so prerequisites that are still incomplete park it again.`,
	Args: cobra.ExactArgs(1),
	RunE: runRequeueCmd,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeueCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	taskID := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	defer rdb.Close()

	if err := queue.New(rdb, logger).Requeue(ctx, taskID); err != nil {
		return err
	}

	// Mirror the reset into the durable record. The queue is the source of
	// truth, so a store hiccup only costs status accuracy.
	if st, err := openStore(cfg); err == nil {
		defer st.Close()
		if rec, err := st.GetTask(ctx, taskID); err == nil && rec != nil {
			if err := st.MarkTaskPending(ctx, taskID); err != nil {
				logger.Warn("store requeue mirror failed", "task_id", taskID, "error", err)
			}
		}
	} else {
		logger.Warn("store unavailable for requeue mirror", "error", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Task %s requeued\n", taskID)
	return nil
}
