package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "intake"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage intake configuration.

Running bare 'intake config' is the same as 'intake config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# intake configuration
# See: intake config show (for effective values and sources)

# SQLite database path (default: ~/.config/intake/intake.db)
# db_path: {{ .DBPath }}

# HTTP API
api:
  # Port for 'intake serve' (default: 8080)
  port: {{ .APIPort }}

# Completion queue worker
queue:
  # Polling interval for 'intake worker' (default: "60s")
  interval: "{{ .QueueInterval }}"

  # Claims before an item is dead-lettered (default: 10)
  max_attempts: {{ .QueueMaxAttempts }}

  # Processing age before a stuck item is requeued (default: "15m")
  stale_after: "{{ .QueueStaleAfter }}"

# Downstream analysis workflow service
workflow:
  # Base URL of the workflow starter API (required for handoff)
  base_url: "{{ .WorkflowBaseURL }}"

  # Bearer token for the workflow API
  token: ""

  # HTTP timeout for workflow calls (default: "30s")
  timeout: "{{ .WorkflowTimeout }}"

# Turn assessment
anthropic:
  # API key; when empty the rule-based assessor is used
  api_key: ""

  # Model for LLM-backed assessment
  model: "{{ .AnthropicModel }}"
`

type configTemplateData struct {
	DBPath           string
	APIPort          int
	QueueInterval    string
	QueueMaxAttempts int
	QueueStaleAfter  string
	WorkflowBaseURL  string
	WorkflowTimeout  string
	AnthropicModel   string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	data := configTemplateData{
		DBPath:           viper.GetString("db_path"),
		APIPort:          viper.GetInt("api.port"),
		QueueInterval:    viper.GetString("queue.interval"),
		QueueMaxAttempts: viper.GetInt("queue.max_attempts"),
		QueueStaleAfter:  viper.GetString("queue.stale_after"),
		WorkflowBaseURL:  viper.GetString("workflow.base_url"),
		WorkflowTimeout:  viper.GetString("workflow.timeout"),
		AnthropicModel:   viper.GetString("anthropic.model"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "db_path", EnvVar: "INTAKE_DB_PATH"},
	{Key: "api.port", EnvVar: "INTAKE_API_PORT"},
	{Key: "queue.interval", EnvVar: "INTAKE_QUEUE_INTERVAL"},
	{Key: "queue.max_attempts", EnvVar: "INTAKE_QUEUE_MAX_ATTEMPTS"},
	{Key: "queue.stale_after", EnvVar: "INTAKE_QUEUE_STALE_AFTER"},
	{Key: "queue.batch_size", EnvVar: "INTAKE_QUEUE_BATCH_SIZE"},
	{Key: "workflow.base_url", EnvVar: "INTAKE_WORKFLOW_BASE_URL"},
	{Key: "workflow.timeout", EnvVar: "INTAKE_WORKFLOW_TIMEOUT"},
	{Key: "anthropic.model", EnvVar: "INTAKE_ANTHROPIC_MODEL"},
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-22s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'intake config init' first)", cfgPath)
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
