package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
)

var stopConversation string

// stopCmd sends an out-of-band stop for a backend session
var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Ask the backend to stop generating for a session",
	Long: `Send the stop notification for a streaming session. Transient
failures are retried with backoff.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), args[0])
	},
}

func init() {
	stopCmd.Flags().StringVarP(&stopConversation, "conversation", "c", "", "conversation the session belongs to")
}

func runStop(ctx context.Context, sessionID string) error {
	logger, err := newLogger(appConfig.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(ctx, appConfig, configPaths, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	conversationID := stopConversation
	if conversationID == "" {
		conversationID = "session:" + sessionID
	}
	ctrl := a.registry.CreateThread(conversationID, thread.SinkFuncs{})
	ctrl.SetSessionID(sessionID)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := ctrl.StopStream(ctx); err != nil {
		return err
	}
	fmt.Printf("Stop requested for session %s\n", sessionID)
	return nil
}
