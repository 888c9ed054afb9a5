package cli

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/config"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage chatstream configuration",
	Long: `View and edit chatstream configuration.

Commands:
  show    - Display the effective configuration
  edit    - Open the global configuration in an editor
  reset   - Reset the global configuration to defaults
  path    - Show configuration file paths
  set     - Set one value in the global configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfig(cmd.OutOrStdout())
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Edit the global configuration in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return editConfig()
	},
}

var configResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the global configuration to defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return resetConfig(cmd.OutOrStdout())
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showConfigPaths(cmd.OutOrStdout())
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a value in the global configuration.

Keys:
  base_url           - Backend base URL
  api_key            - Backend API key
  default_model      - Model used when none is given
  max_rounds         - Auto-continue round cap
  log_level          - debug, info, warn, error
  metrics_enabled    - Serve Prometheus metrics (true/false)
  metrics_addr       - Metrics listen address
  transcript_driver  - memory or redis
  redis_addr         - Redis address for transcripts
  circuit_breaker    - Guard the backend with a circuit breaker (true/false)

Examples:
  chatstream config set base_url http://localhost:8000/v1
  chatstream config set max_rounds 10`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := setConfigValue(appConfig, args[0], args[1]); err != nil {
			return err
		}
		if err := config.SaveTo(configPaths.Global, appConfig); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configResetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configSetCmd)
}

func showConfig(out io.Writer) error {
	shown := *appConfig
	if shown.Backend.APIKey != "" {
		shown.Backend.APIKey = "********"
	}
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Fprintln(out, "# chatstream configuration")
	fmt.Fprintln(out, "# Location:", configPaths.Global)
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))
	return nil
}

func editConfig() error {
	path := configPaths.Global
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.SaveTo(path, appConfig); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vim"
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func resetConfig(out io.Writer) error {
	defaults := config.Default()
	if err := config.SaveTo(configPaths.Global, &defaults); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintln(out, "Configuration reset to defaults")
	fmt.Fprintln(out, "Saved to:", configPaths.Global)
	return nil
}

func showConfigPaths(out io.Writer) error {
	status := func(path string) string {
		if _, err := os.Stat(path); err == nil {
			return "exists"
		}
		return "not found"
	}

	fmt.Fprintln(out, "Configuration Paths:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Global config:  %s (%s)\n", configPaths.Global, status(configPaths.Global))
	fmt.Fprintf(out, "  Project config: %s (%s)\n", configPaths.Project, status(configPaths.Project))
	fmt.Fprintf(out, "  Env file:       %s (%s)\n", configPaths.Env, status(configPaths.Env))
	fmt.Fprintf(out, "  Log file:       %s\n", logFilePath())
	fmt.Fprintln(out)
	fmt.Fprintln(out, "The project config overrides the global one; CHATSTREAM_* variables override both.")
	return nil
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch key {
	case "base_url":
		cfg.Backend.BaseURL = value
	case "api_key":
		cfg.Backend.APIKey = value
	case "default_model":
		cfg.Backend.DefaultModel = value
	case "max_rounds":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("max_rounds must be a non-negative integer")
		}
		cfg.Threads.MaxAutoContinueRounds = n
	case "log_level":
		cfg.Logging.Level = value
	case "metrics_enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("metrics_enabled must be true or false")
		}
		cfg.Metrics.Enabled = b
	case "metrics_addr":
		cfg.Metrics.Addr = value
	case "transcript_driver":
		cfg.Transcript.Driver = value
	case "redis_addr":
		cfg.Transcript.Redis.Addr = value
	case "circuit_breaker":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("circuit_breaker must be true or false")
		}
		cfg.Backend.CircuitBreaker.Enabled = b
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return cfg.Validate()
}
