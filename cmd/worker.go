package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/startupai/intake/internal/queue"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the completion queue worker",
	Long: `Run the completion queue worker: claim pending handoff items, start the
downstream analysis workflow for each, and resolve them as completed,
requeued, or dead-lettered.

With --once, runs a single claim-and-process cycle and exits; otherwise
polls on queue.interval until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		client, err := getHandoffClient()
		if err != nil {
			return err
		}
		cfg, err := queueConfig()
		if err != nil {
			return err
		}

		log := slog.New(slog.NewTextHandler(os.Stderr, nil))
		worker := queue.NewWorker(s, client, cfg, log)

		if workerOnce {
			processed := worker.RunOnce(cmd.Context())
			ui.Success("Processed %d queue item(s)", processed)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Run a single cycle and exit")
	rootCmd.AddCommand(workerCmd)
}
