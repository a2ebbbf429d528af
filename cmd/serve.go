package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/startupai/intake/internal/api"
	"github.com/startupai/intake/internal/queue"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake HTTP API server",
	Long: `Start the HTTP API server for session and turn handling.

The server also exposes POST /api/v1/queue/run for an external scheduler
to trigger a completion queue cycle; run 'intake worker' for an in-process
polling loop instead. By default it listens on port 8080.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		log := slog.New(slog.NewTextHandler(os.Stderr, nil))

		// The scheduler trigger endpoint needs a worker; without a workflow
		// URL the endpoint reports unavailable.
		var worker *queue.Worker
		if client, err := getHandoffClient(); err == nil {
			cfg, err := queueConfig()
			if err != nil {
				return err
			}
			worker = queue.NewWorker(s, client, cfg, log)
		} else {
			log.Warn("queue trigger endpoint disabled", "reason", err)
		}

		srv := api.NewServer(s, getAssessor(), worker, log)

		addr := fmt.Sprintf(":%d", viper.GetInt("api.port"))
		log.Info("intake API listening", "addr", addr)
		return http.ListenAndServe(addr, srv.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("api.port", serveCmd.Flags().Lookup("port"))
}
