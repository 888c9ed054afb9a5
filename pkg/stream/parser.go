// Package stream decodes the server-sent event stream returned by the chat
// backend into typed payloads.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
)

// DoneSentinel terminates a stream before the transport closes.
const DoneSentinel = "[DONE]"

var (
	recordSep  = []byte("\n\n")
	dataPrefix = []byte("data:")
)

// ErrMalformedPayload is reported to the malformed hook when a data line is not valid JSON.
var ErrMalformedPayload = errors.New("malformed stream payload")

// Payload is one decoded event. Every field is optional.
type Payload struct {
	Content            string `json:"content,omitempty"`
	UserMessageID      int64  `json:"user_message_id,omitempty"`
	AssistantMessageID int64  `json:"assistant_message_id,omitempty"`
	ConversationID     string `json:"conversation_id,omitempty"`
	SessionID          string `json:"session_id,omitempty"`
}

// HasIDs reports whether the payload carries backend-assigned message ids.
func (p Payload) HasIDs() bool {
	return p.UserMessageID != 0 || p.AssistantMessageID != 0
}

// MalformedHook observes dropped payloads.
type MalformedHook func(raw string, err error)

// Option configures a Parser or Reader.
type Option func(*options)

type options struct {
	logger    logging.Logger
	malformed MalformedHook
}

// WithLogger sets the logger used for malformed payload diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMalformedHook registers a callback for every dropped payload.
func WithMalformedHook(hook MalformedHook) Option {
	return func(o *options) {
		o.malformed = hook
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Parser incrementally reconstructs records from arbitrarily split chunks.
// A Parser is not safe for concurrent use.
type Parser struct {
	buf  []byte
	done bool
	opts options
}

// NewParser creates an empty Parser.
func NewParser(opts ...Option) *Parser {
	return &Parser{opts: buildOptions(opts)}
}

// Done reports whether the sentinel has been seen.
func (p *Parser) Done() bool {
	return p.done
}

// Feed consumes a chunk and returns every payload completed by it. Once the
// sentinel is seen, done is true and later input is ignored.
func (p *Parser) Feed(chunk []byte) (payloads []Payload, done bool) {
	if p.done {
		return nil, true
	}
	p.buf = append(p.buf, stripCR(chunk)...)

	for {
		idx := bytes.Index(p.buf, recordSep)
		if idx < 0 {
			break
		}
		record := p.buf[:idx]
		p.buf = p.buf[idx+len(recordSep):]

		payload, ok := p.decode(record)
		if p.done {
			p.buf = nil
			return payloads, true
		}
		if ok {
			payloads = append(payloads, payload)
		}
	}

	return payloads, false
}

// Flush decodes a final record left unterminated when the transport closed.
func (p *Parser) Flush() []Payload {
	if p.done || len(bytes.TrimSpace(p.buf)) == 0 {
		p.buf = nil
		return nil
	}
	record := p.buf
	p.buf = nil

	payload, ok := p.decode(record)
	if !ok || p.done {
		return nil
	}
	return []Payload{payload}
}

func (p *Parser) decode(record []byte) (Payload, bool) {
	var data [][]byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data = append(data, bytes.TrimSpace(line[len(dataPrefix):]))
	}
	if len(data) == 0 {
		return Payload{}, false
	}

	raw := bytes.Join(data, []byte("\n"))
	if string(raw) == DoneSentinel {
		p.done = true
		return Payload{}, false
	}
	if len(raw) == 0 {
		return Payload{}, false
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		p.opts.logger.Warn("dropping malformed stream payload",
			logging.String("payload", string(raw)),
			logging.Err(err),
		)
		if p.opts.malformed != nil {
			p.opts.malformed(string(raw), errors.Join(ErrMalformedPayload, err))
		}
		return Payload{}, false
	}
	return payload, true
}

func stripCR(chunk []byte) []byte {
	if bytes.IndexByte(chunk, '\r') < 0 {
		return chunk
	}
	return bytes.ReplaceAll(chunk, []byte("\r"), nil)
}
