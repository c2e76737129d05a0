package core

import (
	"errors"
	"sync"

	"gopperh7/protocol"
)

// CommandHandler decodes its own arguments from data and runs the command.
type CommandHandler func(data *[]byte) error

// HFInShutdown marks a command that still runs after a shutdown.
const HFInShutdown = 1 << 0

var errNotACommand = errors.New("message is a response, not a command")

// Command is one entry of the message table. Responses (MCU -> host) are
// entries without a Handler; they share the ID space with commands.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "oid=%c pin=%u"
	Flags   uint8
	Handler CommandHandler
}

// Key is the name and format as the data dictionary lists them.
func (c *Command) Key() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns message IDs in registration order.
type CommandRegistry struct {
	mu     sync.RWMutex
	byID   []*Command
	byName map[string]*Command
}

var globalRegistry = NewCommandRegistry()

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{byName: make(map[string]*Command)}
}

// RegisterCommand adds a command to the global registry.
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.RegisterFlags(name, format, 0, handler)
}

// RegisterCommandFlags adds a command with HF* flags to the global registry.
func RegisterCommandFlags(name string, format string, flags uint8, handler CommandHandler) uint16 {
	return globalRegistry.RegisterFlags(name, format, flags, handler)
}

// RegisterResponse adds an MCU -> host message to the global registry.
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.RegisterFlags(name, format, 0, nil)
}

func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	return r.RegisterFlags(name, format, 0, handler)
}

// RegisterFlags adds a message. A name registered twice keeps its first ID
// and definition.
func (r *CommandRegistry) RegisterFlags(name string, format string, flags uint8, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cmd, ok := r.byName[name]; ok {
		return cmd.ID
	}
	cmd := &Command{
		ID:      uint16(len(r.byID)),
		Name:    name,
		Format:  format,
		Flags:   flags,
		Handler: handler,
	}
	r.byID = append(r.byID, cmd)
	r.byName[name] = cmd
	return cmd.ID
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[name]
	return cmd, ok
}

// Count returns the number of registered messages.
func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Dispatch runs the handler registered for cmdID.
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return errors.New("unknown command ID: " + itoa(int(cmdID)))
	}
	if cmd.Handler == nil {
		return errNotACommand
	}
	return cmd.Handler(data)
}

// GetCommandsAndResponses maps dictionary keys to IDs, split by direction.
func (r *CommandRegistry) GetCommandsAndResponses() (commands, responses map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	commands = make(map[string]int)
	responses = make(map[string]int)
	for _, cmd := range r.byID {
		if cmd.Handler != nil {
			commands[cmd.Key()] = int(cmd.ID)
		} else {
			responses[cmd.Key()] = int(cmd.ID)
		}
	}
	return commands, responses
}

// DispatchCommand runs a command from the global registry. After a
// shutdown, commands without HFInShutdown are skipped and the host is told
// why with an is_shutdown response; the rest of that frame is dropped.
func DispatchCommand(cmdID uint16, data *[]byte) error {
	if IsShutdown() {
		cmd, ok := globalRegistry.GetCommand(cmdID)
		if ok && cmd.Flags&HFInShutdown == 0 {
			*data = (*data)[:0]
			SendResponse("is_shutdown", func(output protocol.OutputBuffer) {
				protocol.EncodeVLQString(output, ShutdownReason())
			})
			return nil
		}
	}
	return globalRegistry.Dispatch(cmdID, data)
}

// GetGlobalRegistry returns the registry the firmware dispatches from.
func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}
