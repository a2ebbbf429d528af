package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/output"
	"github.com/startupai/intake/internal/store"
)

var (
	queueStatusFilter string
	queueLimit        int
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and manage the completion queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completion queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		items, err := s.ListQueueItems(context.Background(), store.QueueListFilter{
			Status: models.QueueItemStatus(queueStatusFilter),
			Limit:  queueLimit,
		})
		if err != nil {
			return err
		}
		if len(items) == 0 {
			ui.Info("Completion queue is empty.")
			return nil
		}

		table := ui.Table([]string{"ID", "SESSION", "STATUS", "ATTEMPTS", "CREATED", "ERROR"})
		for _, item := range items {
			_ = table.Append([]string{
				item.ID,
				item.SessionID,
				output.StatusColor(string(item.Status)),
				fmt.Sprintf("%d", item.Attempts),
				item.CreatedAt.Format(time.RFC3339),
				item.ErrorMessage,
			})
		}
		return table.Render()
	},
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		stats, err := s.QueueStats(context.Background())
		if err != nil {
			return err
		}
		ui.Info("Pending: %s  Processing: %s  Completed: %s  Dead-letter: %s",
			output.Green(fmt.Sprintf("%d", stats.Pending)),
			output.Yellow(fmt.Sprintf("%d", stats.Processing)),
			output.Cyan(fmt.Sprintf("%d", stats.Completed)),
			output.Red(fmt.Sprintf("%d", stats.DeadLetter)))
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <item-id>",
	Short: "Reset a dead-lettered item for fresh handoff attempts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		if err := s.RequeueItem(context.Background(), args[0]); err != nil {
			return err
		}
		ui.Success("Queue item %s requeued", args[0])
		return nil
	},
}

func init() {
	queueListCmd.Flags().StringVar(&queueStatusFilter, "status", "", "Filter by status (pending, processing, completed, dead_letter)")
	queueListCmd.Flags().IntVar(&queueLimit, "limit", 50, "Maximum items to list")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	rootCmd.AddCommand(queueCmd)
}
