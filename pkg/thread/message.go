package thread

import (
	"strings"
)

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

const (
	// Placeholder is shown in place of an assistant reply until content arrives.
	Placeholder = `<span class="waiting-typing">Thinking…</span>`

	// EmptyReply finalizes a round that produced no content.
	EmptyReply = "(no content received)"

	// ErrorPrefix marks a failed round.
	ErrorPrefix = "⚠️ Error: "
)

// IsPlaceholder reports whether content is the waiting marker.
func IsPlaceholder(content string) bool {
	return strings.Contains(content, `class="waiting-typing"`)
}

// IsError reports whether content is a failed-round message.
func IsError(content string) bool {
	return strings.HasPrefix(content, ErrorPrefix)
}

// Message is one entry of a conversation as shown to the user.
//
// Key is a local identifier stable across re-emissions of the same logical
// message; ID is the backend id and stays zero until the backend assigns one.
type Message struct {
	Key       string `json:"key"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	ID        int64  `json:"id,omitempty"`
	Collapsed bool   `json:"collapsed,omitempty"`
}

// Sink receives the visible side effects of a thread.
//
// AppendMessage with replaceLast set replaces the last entry. Otherwise an
// entry with the same Key is updated in place, or the message is appended.
// Implementations must not call back into the Registry synchronously.
type Sink interface {
	AppendMessage(msg Message, replaceLast bool)
	SetLoading(loading bool)
}

// SinkFuncs adapts two functions to a Sink. Nil functions are skipped.
type SinkFuncs struct {
	Append  func(msg Message, replaceLast bool)
	Loading func(loading bool)
}

// AppendMessage implements Sink.
func (s SinkFuncs) AppendMessage(msg Message, replaceLast bool) {
	if s.Append != nil {
		s.Append(msg, replaceLast)
	}
}

// SetLoading implements Sink.
func (s SinkFuncs) SetLoading(loading bool) {
	if s.Loading != nil {
		s.Loading(loading)
	}
}

// Apply merges msg into list following the Sink contract and returns the new list.
func Apply(list []Message, msg Message, replaceLast bool) []Message {
	if replaceLast && len(list) > 0 {
		list[len(list)-1] = msg
		return list
	}
	if msg.Key != "" {
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].Key == msg.Key {
				list[i] = msg
				return list
			}
		}
	}
	return append(list, msg)
}
