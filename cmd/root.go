package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/startupai/intake/internal/assess"
	"github.com/startupai/intake/internal/handoff"
	"github.com/startupai/intake/internal/output"
	"github.com/startupai/intake/internal/queue"
	"github.com/startupai/intake/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool

	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Onboarding session service - conversational intake with workflow handoff",
	Long: `intake runs the conversational onboarding backend: it applies chat turns
to durable sessions with idempotency and optimistic concurrency, tracks
stage progress across the seven onboarding stages, and hands completed
sessions off to the downstream analysis workflow through a retrying
completion queue.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/intake/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "intake")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("INTAKE")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "intake")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "intake.db"))
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("queue.interval", "60s")
	viper.SetDefault("queue.max_attempts", 10)
	viper.SetDefault("queue.stale_after", "15m")
	viper.SetDefault("queue.batch_size", 25)
	viper.SetDefault("workflow.base_url", "")
	viper.SetDefault("workflow.token", "")
	viper.SetDefault("workflow.timeout", "30s")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Store is initialized lazily so config/version commands run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getAssessor returns the LLM assessor when an API key is configured, the
// heuristic one otherwise.
func getAssessor() assess.Assessor {
	if key := viper.GetString("anthropic.api_key"); key != "" {
		return assess.NewLLM(key, viper.GetString("anthropic.model"))
	}
	return assess.NewHeuristic()
}

// getHandoffClient returns the workflow client, or an error when no base URL
// is configured.
func getHandoffClient() (handoff.Client, error) {
	baseURL := viper.GetString("workflow.base_url")
	if baseURL == "" {
		return nil, fmt.Errorf("workflow.base_url is not configured")
	}
	timeout, err := time.ParseDuration(viper.GetString("workflow.timeout"))
	if err != nil {
		return nil, fmt.Errorf("parse workflow.timeout: %w", err)
	}
	return handoff.NewHTTPClient(baseURL, viper.GetString("workflow.token"), timeout), nil
}

// queueConfig builds the worker config from viper settings.
func queueConfig() (queue.Config, error) {
	interval, err := time.ParseDuration(viper.GetString("queue.interval"))
	if err != nil {
		return queue.Config{}, fmt.Errorf("parse queue.interval: %w", err)
	}
	staleAfter, err := time.ParseDuration(viper.GetString("queue.stale_after"))
	if err != nil {
		return queue.Config{}, fmt.Errorf("parse queue.stale_after: %w", err)
	}
	return queue.Config{
		Interval:    interval,
		MaxAttempts: viper.GetInt("queue.max_attempts"),
		StaleAfter:  staleAfter,
		BatchSize:   viper.GetInt("queue.batch_size"),
	}, nil
}
