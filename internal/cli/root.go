// Package cli implements the chatstream command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/config"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
)

var (
	// Version information (set by build)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// Global flags
	cfgFile string
	verbose bool

	// Global state, set by PersistentPreRunE
	appConfig   *config.Config
	configPaths config.Paths
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "chatstream",
	Short: "Streaming multi-conversation chat client",
	Long: `chatstream streams replies from a chat backend, continues truncated
multi-part answers automatically and keeps several conversations streaming
at once.

Start the interactive client:
  chatstream tui conv-1 conv-2

Send one message and print the reply:
  chatstream send --conversation conv-1 "write the plan"

Ask the backend to stop a generation:
  chatstream stop <session-id>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPaths = config.DefaultPaths()
		if cfgFile != "" {
			configPaths.Project = cfgFile
		}
		cfg, err := config.LoadFrom(configPaths)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		appConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context(), args)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .chatstream/config.yaml over ~/.chatstream/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(configCmd)
}

// versionCmd shows version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "chatstream %s\n", Version)
		fmt.Fprintf(out, "Build: %s\n", BuildTime)
		fmt.Fprintf(out, "Commit: %s\n", GitCommit)
	},
}

// newLogger builds the zap logger for cfg writing to out
func newLogger(cfg config.LoggingConfig, out io.Writer) (*logging.ZapLogger, error) {
	level := logging.ParseLevel(cfg.Level)
	if verbose {
		level = logging.DebugLevel
	}
	if out == nil {
		out = os.Stderr
	}
	return logging.NewZapLogger(logging.Config{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	})
}
