package tui

import (
	"sort"
	"strings"
)

// Command represents a slash command with metadata
type Command struct {
	Name        string
	Usage       string
	Description string
	Category    string // "conversation", "send", "system"
}

var categoryOrder = map[string]int{"conversation": 0, "send": 1, "system": 2}

// CommandRegistry manages available slash commands
type CommandRegistry struct {
	commands map[string]Command
}

// NewCommandRegistry creates a new command registry with built-in commands
func NewCommandRegistry() *CommandRegistry {
	r := &CommandRegistry{
		commands: make(map[string]Command),
	}
	r.registerBuiltinCommands()
	return r
}

func (r *CommandRegistry) register(cmd Command) {
	r.commands[cmd.Name] = cmd
}

// registerBuiltinCommands adds the built-in slash commands
func (r *CommandRegistry) registerBuiltinCommands() {
	r.register(Command{Name: "open", Usage: "/open <id>", Description: "Open a conversation and show it", Category: "conversation"})
	r.register(Command{Name: "close", Usage: "/close", Description: "Stop and close the current conversation", Category: "conversation"})
	r.register(Command{Name: "stop", Usage: "/stop", Description: "Ask the backend to stop the current reply", Category: "conversation"})
	r.register(Command{Name: "list", Usage: "/list", Description: "List open conversations", Category: "conversation"})

	r.register(Command{Name: "model", Usage: "/model <name>", Description: "Set the model for new messages", Category: "send"})
	r.register(Command{Name: "role", Usage: "/role <name>", Description: "Use a role preset for the next message", Category: "send"})
	r.register(Command{Name: "docs", Usage: "/docs <id,id...>", Description: "Attach documents to the next message", Category: "send"})
	r.register(Command{Name: "rounds", Usage: "/rounds <n>", Description: "Set the auto-continue round cap", Category: "send"})

	r.register(Command{Name: "copy", Usage: "/copy", Description: "Copy the last reply to the clipboard", Category: "system"})
	r.register(Command{Name: "help", Usage: "/help", Description: "Show available commands", Category: "system"})
	r.register(Command{Name: "quit", Usage: "/quit", Description: "Exit", Category: "system"})
}

// GetCommand returns a command by name
func (r *CommandRegistry) GetCommand(name string) (Command, bool) {
	cmd, ok := r.commands[name]
	return cmd, ok
}

// GetAllCommands returns all registered commands, by category then name
func (r *CommandRegistry) GetAllCommands() []Command {
	cmds := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sortCommands(cmds)
	return cmds
}

// FilterCommands returns commands matching a prefix
func (r *CommandRegistry) FilterCommands(prefix string) []Command {
	prefix = strings.ToLower(prefix)
	cmds := make([]Command, 0)
	for _, cmd := range r.commands {
		if strings.HasPrefix(cmd.Name, prefix) {
			cmds = append(cmds, cmd)
		}
	}
	sortCommands(cmds)
	return cmds
}

func sortCommands(cmds []Command) {
	sort.Slice(cmds, func(i, j int) bool {
		if cmds[i].Category != cmds[j].Category {
			return categoryOrder[cmds[i].Category] < categoryOrder[cmds[j].Category]
		}
		return cmds[i].Name < cmds[j].Name
	})
}

// parseCommand splits "/name args..." into its name and argument string
func parseCommand(input string) (name, args string) {
	input = strings.TrimPrefix(strings.TrimSpace(input), "/")
	name, args, _ = strings.Cut(input, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}
