// Package command holds the registry of console commands an RCON server
// exposes, the tokenizer that splits a command line into arguments, and a
// small set of built-in commands.
package command

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc executes a command and returns the text sent back to the
// RCON client. name is the command as typed, args the remaining tokens.
type HandlerFunc func(name string, args []string) string

// Command is a registered console command.
type Command struct {
	Name        string `json:"name"`
	Usage       string `json:"usage"`
	Description string `json:"description"`

	Handler HandlerFunc `json:"-"`
}

// Registry maps command names to commands. Lookups are exact and case
// sensitive; registering an existing name replaces it. Safe for
// concurrent use, so commands may be added while the server is running.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

// Add registers a command handler.
func (r *Registry) Add(name, usage, description string, handler HandlerFunc) {
	r.AddCommand(Command{
		Name:        name,
		Usage:       usage,
		Description: description,
		Handler:     handler,
	})
}

// AddCommand registers cmd under cmd.Name.
func (r *Registry) AddCommand(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Name]; exists {
		log.Debug().Str("command", cmd.Name).Msg("replacing registered command")
	}
	r.commands[cmd.Name] = cmd
}

// Remove unregisters a command. It reports whether the command existed.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.commands[name]
	delete(r.commands, name)
	return ok
}

// GetCommand returns the command registered under name.
func (r *Registry) GetCommand(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	return cmd, ok
}

// Commands returns all registered commands sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		result = append(result, cmd)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Len returns the number of registered commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// InvalidCommandResponse is the reply for a command line whose command is
// not registered.
func InvalidCommandResponse(payload string) string {
	return `Invalid command "` + payload + `"`
}

// Execute tokenizes a command line, looks the command up and runs it.
// When the command is unknown, fallback (if non-nil) handles it;
// otherwise the reply is InvalidCommandResponse(payload).
func (r *Registry) Execute(payload string, fallback HandlerFunc) string {
	result, _ := r.Dispatch(payload, fallback)
	return result
}

// Dispatch is Execute that also reports whether the command was found in
// the registry.
func (r *Registry) Dispatch(payload string, fallback HandlerFunc) (string, bool) {
	args := TokenizeOrSplit(payload)
	if len(args) == 0 {
		return InvalidCommandResponse(payload), false
	}

	name := args[0]
	cmd, ok := r.GetCommand(name)
	if !ok {
		if fallback != nil {
			return fallback(name, args[1:]), false
		}
		return InvalidCommandResponse(payload), false
	}
	if cmd.Handler == nil {
		return "", true
	}
	return cmd.Handler(name, args[1:]), true
}

// usageLine formats "name usage" for help output.
func usageLine(cmd Command) string {
	return strings.TrimSpace(cmd.Name + " " + cmd.Usage)
}
