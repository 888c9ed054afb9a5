package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/transcript"
)

var sendOpts struct {
	conversation string
	model        string
	role         string
	documents    []int
	systemAppend string
	maxRounds    int
	noStream     bool
}

// sendCmd sends one message and prints the reply
var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send a message and stream the reply",
	Long: `Send a message to a conversation and print the reply as it streams.
Truncated multi-part replies are continued automatically. Ctrl+C asks the
backend to stop and ends the send.

Examples:
  chatstream send -c conv-1 "draft the release notes"
  echo "review this" | chatstream send -c conv-1 --doc 12 --doc 13
  chatstream send -c conv-1 --role assistant --no-stream "summarize"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, err := readMessage(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		return runSend(cmd.Context(), cmd.OutOrStdout(), message)
	},
}

func init() {
	f := sendCmd.Flags()
	f.StringVarP(&sendOpts.conversation, "conversation", "c", "", "conversation id (required)")
	f.StringVarP(&sendOpts.model, "model", "m", "", "model (default from role or config)")
	f.StringVarP(&sendOpts.role, "role", "r", "", "role preset from config")
	f.IntSliceVar(&sendOpts.documents, "doc", nil, "document id to attach (repeatable)")
	f.StringVar(&sendOpts.systemAppend, "system-append", "", "text appended to the system prompt")
	f.IntVar(&sendOpts.maxRounds, "max-rounds", -1, "auto-continue round cap, 0 disables (default from config)")
	f.BoolVar(&sendOpts.noStream, "no-stream", false, "print only the final cleaned reply")
	_ = sendCmd.MarkFlagRequired("conversation")
}

func readMessage(args []string, in io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read message: %w", err)
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		return "", fmt.Errorf("no message given")
	}
	return msg, nil
}

func runSend(ctx context.Context, out io.Writer, message string) error {
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

	if sendOpts.maxRounds >= 0 {
		a.registry.SetMaxRounds(sendOpts.maxRounds)
	}

	var opts []thread.SendOption
	if len(sendOpts.documents) > 0 {
		opts = append(opts, thread.WithDocuments(sendOpts.documents))
	}
	systemAppend := sendOpts.systemAppend
	if role, ok := appConfig.Backend.Roles[sendOpts.role]; ok && systemAppend == "" {
		systemAppend = role.Prompt
	}
	if systemAppend != "" {
		opts = append(opts, thread.WithSystemPromptAppend(systemAppend))
	}
	model := appConfig.Backend.Model(sendOpts.model, sendOpts.role)

	tr := transcript.New(sendOpts.conversation,
		transcript.WithStore(a.store),
		transcript.WithLogger(logger),
	)
	printer := newStreamPrinter(tr, out, !sendOpts.noStream)
	ctrl := a.registry.CreateThread(sendOpts.conversation, printer)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	finished := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-sigCtx.Done():
			stopSend(a, ctrl, logger)
		case <-finished:
		}
	}()

	ctrl.Send(message, model, opts...)
	close(finished)
	<-watcherDone
	tr.Wait()

	return printer.finish()
}

// stopSend asks the backend to stop, then abandons the thread locally
func stopSend(a *app, ctrl *thread.Controller, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.StopStream(ctx); err != nil {
		logger.Warn("stop request failed", logging.Err(err))
	}
	a.registry.StopThread(ctrl.ConversationID())
}

// streamPrinter is a thread.Sink that records into a transcript and writes
// assistant text to out as it grows.
type streamPrinter struct {
	*transcript.Transcript

	mu         sync.Mutex
	out        io.Writer
	stream     bool
	printedKey string
	printed    string
}

func newStreamPrinter(tr *transcript.Transcript, out io.Writer, stream bool) *streamPrinter {
	return &streamPrinter{Transcript: tr, out: out, stream: stream}
}

// AppendMessage implements thread.Sink.
func (p *streamPrinter) AppendMessage(msg thread.Message, replaceLast bool) {
	p.Transcript.AppendMessage(msg, replaceLast)
	if !p.stream || msg.Role != thread.RoleAssistant || thread.IsPlaceholder(msg.Content) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.Key != p.printedKey {
		if p.printedKey != "" {
			fmt.Fprint(p.out, "\n\n")
		}
		p.printedKey = msg.Key
		p.printed = ""
	}

	switch {
	case strings.HasPrefix(msg.Content, p.printed):
		fmt.Fprint(p.out, msg.Content[len(p.printed):])
	case strings.HasPrefix(p.printed, msg.Content):
		// final text shortened, e.g. the continuation marker was stripped
	default:
		fmt.Fprint(p.out, "\n"+msg.Content)
	}
	p.printed = msg.Content
}

// finish prints the final output and reports a failed round as an error.
func (p *streamPrinter) finish() error {
	msgs := p.Messages()

	if p.stream {
		p.mu.Lock()
		if p.printedKey != "" {
			fmt.Fprintln(p.out)
		}
		p.mu.Unlock()
	} else {
		var replies []string
		for _, m := range msgs {
			if m.Role != thread.RoleAssistant || thread.IsError(m.Content) || thread.IsPlaceholder(m.Content) {
				continue
			}
			replies = append(replies, continuation.TrimReply(m.Content))
		}
		if len(replies) > 0 {
			fmt.Fprintln(p.out, strings.Join(replies, "\n\n"))
		}
	}

	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != thread.RoleAssistant {
			continue
		}
		if thread.IsError(msgs[i].Content) {
			return errors.New(strings.TrimPrefix(msgs[i].Content, thread.ErrorPrefix))
		}
		break
	}
	return nil
}
