// Package tui is the multi-conversation terminal client. Every open
// conversation keeps streaming in the background; only the one on screen
// receives visible updates.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/config"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/logging"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/thread"
	"github.com/teryfly/solution-discussion-client-sub000/pkg/transcript"
)

const (
	stopTimeout = 30 * time.Second
	loadTimeout = 5 * time.Second

	// tabs, separator, input, status and help lines
	chromeHeight = 5
)

// Options configures the TUI model
type Options struct {
	Registry      *thread.Registry
	Store         transcript.Store
	Logger        logging.Logger
	Model         string
	Roles         map[string]config.Role
	Conversations []string
}

type conversation struct {
	id         string
	transcript *transcript.Transcript
	sending    bool
}

// Model is the main Bubbletea model for the TUI
type Model struct {
	// UI components
	input    textinput.Model
	viewport viewport.Model
	styles   Styles
	md       *MarkdownRenderer
	commands *CommandRegistry

	// Infrastructure
	registry *thread.Registry
	selector *thread.Selector
	store    transcript.Store
	logger   logging.Logger
	roles    map[string]config.Role

	// State
	conversations map[string]*conversation
	order         []string
	opened        []*transcript.Transcript
	notice        string
	model         string
	role          string
	docs          []int

	done chan struct{}

	// Terminal
	width    int
	height   int
	ready    bool
	quitting bool
}

// New creates a new TUI model and opens the initial conversations
func New(opts Options) *Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /command..."
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 16384
	ti.Width = 80

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	md, err := NewMarkdownRenderer(80)
	if err != nil {
		logger.Warn("markdown rendering disabled", logging.Err(err))
	}

	m := &Model{
		input:         ti,
		styles:        DefaultStyles(),
		md:            md,
		commands:      NewCommandRegistry(),
		registry:      opts.Registry,
		selector:      thread.NewSelector(opts.Registry),
		store:         opts.Store,
		logger:        logger.With(logging.String("component", "tui")),
		roles:         opts.Roles,
		conversations: make(map[string]*conversation),
		model:         opts.Model,
		done:          make(chan struct{}),
	}
	for _, id := range opts.Conversations {
		m.open(id)
	}
	if len(m.order) > 0 {
		m.selectConversation(m.order[0])
	} else {
		m.notice = "Open a conversation with /open <id>"
	}
	return m
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	for _, id := range m.order {
		c := m.conversations[id]
		cmds = append(cmds, m.waitForUpdate(c), m.loadHistory(c))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.viewportHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.viewportHeight()
		}
		m.input.Width = msg.Width - 4
		if err := m.md.UpdateWidth(msg.Width - 4); err != nil {
			m.logger.Warn("failed to resize markdown renderer", logging.Err(err))
		}
		m.refresh()

	case transcriptUpdatedMsg:
		c, ok := m.conversations[msg.ConversationID]
		if !ok {
			return m, nil
		}
		if msg.ConversationID == m.selector.Current() {
			m.refresh()
		}
		return m, m.waitForUpdate(c)

	case historyLoadedMsg:
		if msg.Err != nil {
			m.notice = fmt.Sprintf("Failed to load history for %s: %v", msg.ConversationID, msg.Err)
		}
		m.refresh()

	case sendDoneMsg:
		if c, ok := m.conversations[msg.ConversationID]; ok {
			c.sending = false
		}
		m.refresh()

	case stopResultMsg:
		if msg.Err != nil {
			m.notice = fmt.Sprintf("Stop failed: %v", msg.Err)
		} else {
			m.notice = "Stop requested"
		}

	case ClipboardCopyMsg:
		if msg.Success {
			m.notice = "Copied last reply to clipboard"
		} else {
			m.notice = fmt.Sprintf("Copy failed: %v", msg.Error)
		}
	}

	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m.quit()

	case tea.KeyEsc:
		return m, m.stopCurrent()

	case tea.KeyEnter:
		return m.handleSubmit()

	case tea.KeyTab:
		m.cycle(1)
		return m, nil

	case tea.KeyShiftTab:
		m.cycle(-1)
		return m, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	if strings.HasPrefix(text, "/") {
		return m.handleSlashCommand(text)
	}

	c := m.current()
	if c == nil {
		m.notice = "Open a conversation first with /open <id>"
		return m, nil
	}
	if c.sending {
		m.notice = "A reply is still streaming. Press Esc to stop it."
		return m, nil
	}

	var opts []thread.SendOption
	if len(m.docs) > 0 {
		opts = append(opts, thread.WithDocuments(m.docs))
	}
	if r, ok := m.roles[m.role]; ok && r.Prompt != "" {
		opts = append(opts, thread.WithSystemPromptAppend(r.Prompt))
	}
	model := m.currentModel()
	m.docs = nil
	m.role = ""
	m.notice = ""

	ctrl := m.registry.CreateThread(c.id, c.transcript)
	c.sending = true
	id := c.id
	return m, func() tea.Msg {
		ctrl.Send(text, model, opts...)
		return sendDoneMsg{ConversationID: id}
	}
}

func (m *Model) handleSlashCommand(input string) (tea.Model, tea.Cmd) {
	name, args := parseCommand(input)
	if _, ok := m.commands.GetCommand(name); !ok {
		m.notice = fmt.Sprintf("Unknown command /%s. Type /help for commands.", name)
		return m, nil
	}

	switch name {
	case "open":
		if args == "" {
			m.notice = "Usage: /open <id>"
			return m, nil
		}
		c, created := m.open(args)
		m.selectConversation(args)
		if created {
			return m, tea.Batch(m.waitForUpdate(c), m.loadHistory(c))
		}

	case "close":
		m.closeCurrent()

	case "stop":
		return m, m.stopCurrent()

	case "list":
		if len(m.order) == 0 {
			m.notice = "No open conversations"
		} else {
			m.notice = "Open: " + strings.Join(m.order, ", ")
		}

	case "model":
		if args == "" {
			m.notice = "Model: " + m.currentModel()
			return m, nil
		}
		m.model = args
		m.notice = "Model set to " + args

	case "role":
		if _, ok := m.roles[args]; !ok {
			m.notice = fmt.Sprintf("Unknown role %q", args)
			return m, nil
		}
		m.role = args
		m.notice = "Next message uses role " + args

	case "docs":
		docs, err := parseDocs(args)
		if err != nil {
			m.notice = err.Error()
			return m, nil
		}
		m.docs = docs
		m.notice = fmt.Sprintf("Next message attaches %d document(s)", len(docs))

	case "rounds":
		n, err := strconv.Atoi(args)
		if err != nil || n < 0 {
			m.notice = "Usage: /rounds <n>"
			return m, nil
		}
		m.registry.SetMaxRounds(n)
		if n == 0 {
			m.notice = "Auto-continue disabled"
		} else {
			m.notice = fmt.Sprintf("Auto-continue capped at %d rounds", n)
		}

	case "copy":
		c := m.current()
		if c == nil {
			m.notice = errNothingToCopy.Error()
			return m, nil
		}
		text, ok := lastReply(c.transcript.Messages())
		if !ok {
			m.notice = errNothingToCopy.Error()
			return m, nil
		}
		return m, copyReply(text)

	case "help":
		m.notice = m.renderHelp()

	case "quit":
		return m.quit()
	}

	m.refresh()
	return m, nil
}

func parseDocs(args string) ([]int, error) {
	var docs []int
	for _, part := range strings.FieldsFunc(args, func(r rune) bool { return r == ',' || r == ' ' }) {
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid document id %q", part)
		}
		docs = append(docs, id)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("usage: /docs <id,id...>")
	}
	return docs, nil
}

// open registers a conversation without selecting it
func (m *Model) open(id string) (*conversation, bool) {
	if c, ok := m.conversations[id]; ok {
		return c, false
	}
	c := &conversation{
		id: id,
		transcript: transcript.New(id,
			transcript.WithStore(m.store),
			transcript.WithLogger(m.logger),
		),
	}
	m.conversations[id] = c
	m.order = append(m.order, id)
	m.opened = append(m.opened, c.transcript)
	return c, true
}

func (m *Model) selectConversation(id string) {
	m.selector.Select(id)
	m.refresh()
}

func (m *Model) current() *conversation {
	return m.conversations[m.selector.Current()]
}

func (m *Model) cycle(step int) {
	if len(m.order) == 0 {
		return
	}
	idx := 0
	for i, id := range m.order {
		if id == m.selector.Current() {
			idx = i
			break
		}
	}
	idx = (idx + step + len(m.order)) % len(m.order)
	m.selectConversation(m.order[idx])
}

func (m *Model) closeCurrent() {
	c := m.current()
	if c == nil {
		m.notice = "No conversation selected"
		return
	}
	m.registry.StopThread(c.id)
	delete(m.conversations, c.id)
	for i, id := range m.order {
		if id == c.id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}

	if len(m.order) > 0 {
		m.selectConversation(m.order[0])
	} else {
		m.selector.Clear()
	}
	m.notice = "Closed " + c.id
}

func (m *Model) stopCurrent() tea.Cmd {
	c := m.current()
	if c == nil {
		m.notice = "Nothing to stop"
		return nil
	}
	ctrl, ok := m.registry.Controller(c.id)
	if !ok || !c.transcript.Loading() {
		m.notice = "Nothing to stop"
		return nil
	}
	id := c.id
	m.notice = "Stopping..."
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return stopResultMsg{ConversationID: id, Err: ctrl.StopStream(ctx)}
	}
}

func (m *Model) quit() (tea.Model, tea.Cmd) {
	if !m.quitting {
		m.quitting = true
		close(m.done)
		m.registry.StopAll()
	}
	return m, tea.Quit
}

// Wait blocks until every transcript opened by the model has finished saving,
// closed conversations included.
func (m *Model) Wait() {
	for _, tr := range m.opened {
		tr.Wait()
	}
}

// waitForUpdate blocks until the transcript changes or the program exits
func (m *Model) waitForUpdate(c *conversation) tea.Cmd {
	updates := c.transcript.Updates()
	done := m.done
	id := c.id
	return func() tea.Msg {
		select {
		case <-updates:
			return transcriptUpdatedMsg{ConversationID: id}
		case <-done:
			return nil
		}
	}
}

func (m *Model) loadHistory(c *conversation) tea.Cmd {
	if m.store == nil {
		return nil
	}
	tr := c.transcript
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return historyLoadedMsg{ConversationID: tr.ConversationID(), Err: tr.Load(ctx)}
	}
}

func (m *Model) currentModel() string {
	if r, ok := m.roles[m.role]; ok && r.Model != "" {
		return r.Model
	}
	return m.model
}

func (m *Model) viewportHeight() int {
	h := m.height - chromeHeight - noticeHeight(m.notice)
	if h < 1 {
		h = 1
	}
	return h
}

func noticeHeight(notice string) int {
	if notice == "" {
		return 0
	}
	return strings.Count(notice, "\n") + 1
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.Height = m.viewportHeight()
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(m.renderTabs())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.styles.InputSeparator.Render(strings.Repeat("─", max(m.width, 1))))
	b.WriteString("\n")
	b.WriteString(m.styles.InputPrompt.Render("› ") + m.input.View())
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(m.styles.SystemMessage.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")
	b.WriteString(m.renderHelpBar())
	return b.String()
}

func (m *Model) renderTabs() string {
	if len(m.order) == 0 {
		return m.styles.Tab.Render("no conversations")
	}
	tabs := make([]string, 0, len(m.order))
	for _, id := range m.order {
		c := m.conversations[id]
		switch {
		case id == m.selector.Current():
			tabs = append(tabs, m.styles.TabActive.Render(id))
		case c.sending:
			tabs = append(tabs, m.styles.TabStreaming.Render(id+" …"))
		default:
			tabs = append(tabs, m.styles.Tab.Render(id))
		}
	}
	return strings.Join(tabs, " ")
}

func (m *Model) renderMessages() string {
	c := m.current()
	if c == nil {
		return ""
	}

	msgs := c.transcript.Messages()
	parts := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		parts = append(parts, m.renderMessage(msg))
	}
	return strings.Join(parts, "\n\n")
}

func (m *Model) renderMessage(msg thread.Message) string {
	switch msg.Role {
	case thread.RoleUser:
		return m.styles.UserPrompt.Render("you › ") + m.styles.UserMessage.Render(msg.Content)
	case thread.RoleAssistant:
		switch {
		case thread.IsPlaceholder(msg.Content):
			return m.styles.Waiting.Render("Thinking…")
		case thread.IsError(msg.Content):
			return m.styles.ErrorMessage.Render(msg.Content)
		default:
			return m.styles.AssistantMessage.Render(m.md.Render(msg.Content))
		}
	default:
		return m.styles.SystemMessage.Render(msg.Content)
	}
}

func (m *Model) renderStatusBar() string {
	var parts []string
	if c := m.current(); c != nil {
		parts = append(parts, c.id)
		if c.transcript.Loading() {
			parts = append(parts, m.styles.StatusStreaming.Render("streaming"))
		}
	}
	parts = append(parts, m.styles.StatusModel.Render(m.currentModel()))
	parts = append(parts, fmt.Sprintf("max rounds %d", m.registry.Policy().Limit()))
	if m.role != "" {
		parts = append(parts, "role "+m.role)
	}
	if len(m.docs) > 0 {
		parts = append(parts, fmt.Sprintf("%d doc(s)", len(m.docs)))
	}
	return m.styles.StatusBar.Render(strings.Join(parts, " · "))
}

func (m *Model) renderHelpBar() string {
	keys := []struct{ key, desc string }{
		{"enter", "send"},
		{"esc", "stop"},
		{"tab", "next"},
		{"/help", "commands"},
		{"ctrl+c", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, m.styles.HelpKey.Render(k.key)+" "+m.styles.HelpDesc.Render(k.desc))
	}
	return m.styles.HelpBar.Render(strings.Join(parts, "  "))
}

func (m *Model) renderHelp() string {
	var lines []string
	for _, cmd := range m.commands.GetAllCommands() {
		lines = append(lines, fmt.Sprintf("%-18s %s", cmd.Usage, cmd.Description))
	}
	return strings.Join(lines, "\n")
}
