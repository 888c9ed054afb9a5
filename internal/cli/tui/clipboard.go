package tui

import (
	"errors"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/continuation"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
)

var errNothingToCopy = errors.New("no assistant reply to copy")

// lastReply returns the latest finished assistant reply, cleaned for reuse
func lastReply(msgs []thread.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Role != thread.RoleAssistant || thread.IsPlaceholder(m.Content) || thread.IsError(m.Content) {
			continue
		}
		return continuation.TrimReply(m.Content), true
	}
	return "", false
}

// copyReply copies text to the system clipboard
func copyReply(text string) tea.Cmd {
	return func() tea.Msg {
		if clipboard.Unsupported {
			return ClipboardCopyMsg{Error: errors.New("clipboard not supported on this system")}
		}
		if err := clipboard.WriteAll(text); err != nil {
			return ClipboardCopyMsg{Error: err}
		}
		return ClipboardCopyMsg{Success: true}
	}
}
