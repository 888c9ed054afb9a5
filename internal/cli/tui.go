package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/teryfly/solution-discussion-client-sub000/internal/cli/tui"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/config"
)

// tuiCmd starts the interactive multi-conversation client
var tuiCmd = &cobra.Command{
	Use:   "tui [conversation-id...]",
	Short: "Start the interactive client",
	Long: `Open the interactive client with the given conversations. Tab switches
between them; replies keep streaming in the background.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTUI(cmd.Context(), args)
	},
}

// logFilePath is where the TUI logs, since the terminal is taken
func logFilePath() string {
	globalDir, _ := config.ConfigPaths()
	return filepath.Join(globalDir, "chatstream.log")
}

func runTUI(ctx context.Context, conversations []string) error {
	path := logFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	logger, err := newLogger(appConfig.Logging, logFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(ctx, appConfig, configPaths, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	m := tui.New(tui.Options{
		Registry:      a.registry,
		Store:         a.store,
		Logger:        logger,
		Model:         appConfig.Backend.DefaultModel,
		Roles:         appConfig.Backend.Roles,
		Conversations: conversations,
	})

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	a.registry.StopAll()
	m.Wait()
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
