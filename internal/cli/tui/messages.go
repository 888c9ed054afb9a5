package tui

// transcriptUpdatedMsg signals that a conversation's transcript changed
type transcriptUpdatedMsg struct {
	ConversationID string
}

// sendDoneMsg signals that a send chain ended
type sendDoneMsg struct {
	ConversationID string
}

// stopResultMsg reports the outcome of a stop request
type stopResultMsg struct {
	ConversationID string
	Err            error
}

// historyLoadedMsg reports a transcript loaded from the store
type historyLoadedMsg struct {
	ConversationID string
	Err            error
}

// ClipboardCopyMsg reports the result of /copy
type ClipboardCopyMsg struct {
	Success bool
	Error   error
}
