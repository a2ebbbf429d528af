package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/startupai/intake/internal/models"
	"github.com/startupai/intake/internal/output"
	"github.com/startupai/intake/internal/session"
	"github.com/startupai/intake/internal/store"
)

var (
	sessionOwner  string
	sessionStatus string
	sessionLimit  int
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage onboarding sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		sessions, err := s.ListSessions(context.Background(), store.SessionListFilter{
			OwnerID: sessionOwner,
			Status:  models.SessionStatus(sessionStatus),
			Limit:   sessionLimit,
		})
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			ui.Info("No sessions found.")
			return nil
		}

		table := ui.Table([]string{"ID", "OWNER", "STATUS", "STAGE", "PROGRESS", "VERSION", "TURNS"})
		for _, sess := range sessions {
			_ = table.Append([]string{
				sess.ID,
				sess.OwnerID,
				output.StatusColor(string(sess.Status)),
				fmt.Sprintf("%d/%d %s", sess.CurrentStage, session.TotalStages, session.StageName(sess.CurrentStage)),
				output.ProgressColor(sess.OverallProgress),
				fmt.Sprintf("%d", sess.Version),
				fmt.Sprintf("%d", len(sess.History)/2),
			})
		}
		return table.Render()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session including its brief and summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		sess, err := s.GetSession(context.Background(), args[0])
		if err != nil {
			return err
		}

		ui.Info("Session %s (owner %s)", output.Cyan(sess.ID), sess.OwnerID)
		ui.Info("Status: %s  Stage: %d/%d %s  Progress: %s  Version: %d",
			output.StatusColor(string(sess.Status)),
			sess.CurrentStage, session.TotalStages, session.StageName(sess.CurrentStage),
			output.ProgressColor(sess.OverallProgress), sess.Version)
		if sess.WorkflowJobID != "" {
			ui.Info("Workflow job: %s  Project: %s", sess.WorkflowJobID, sess.ProjectID)
		}

		if len(sess.Brief) > 0 {
			data, err := yaml.Marshal(sess.Brief)
			if err != nil {
				return fmt.Errorf("render brief: %w", err)
			}
			fmt.Fprintf(ui.Out, "\nBrief:\n%s", data)
		}
		if sess.Summary != nil {
			data, err := yaml.Marshal(sess.Summary)
			if err != nil {
				return fmt.Errorf("render summary: %w", err)
			}
			fmt.Fprintf(ui.Out, "\nSummary:\n%s", data)
		}
		return nil
	},
}

var sessionExpireCmd = &cobra.Command{
	Use:   "expire <session-id>",
	Short: "Expire an active session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if sessionOwner == "" {
			return fmt.Errorf("--owner is required")
		}
		s, err := getStore()
		if err != nil {
			return err
		}
		if err := s.ExpireSession(context.Background(), args[0], sessionOwner); err != nil {
			return err
		}
		ui.Success("Session %s expired", args[0])
		return nil
	},
}

func init() {
	sessionListCmd.Flags().StringVar(&sessionOwner, "owner", "", "Filter by owner id")
	sessionListCmd.Flags().StringVar(&sessionStatus, "status", "", "Filter by status (active, completed, expired)")
	sessionListCmd.Flags().IntVar(&sessionLimit, "limit", 50, "Maximum sessions to list")
	sessionExpireCmd.Flags().StringVar(&sessionOwner, "owner", "", "Owner id of the session")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionExpireCmd)
	rootCmd.AddCommand(sessionCmd)
}
