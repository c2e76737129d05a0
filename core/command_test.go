package core

import (
	"errors"
	"testing"

	"gopperh7/protocol"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	// Register a command
	var called bool
	handler := func(data *[]byte) error {
		called = true
		return nil
	}

	id := registry.Register("test_command", "arg=%u", handler)

	if id != 0 {
		t.Errorf("Expected first command to have ID 0, got %d", id)
	}

	// Verify command can be retrieved
	cmd, ok := registry.GetCommand(id)
	if !ok {
		t.Error("Failed to retrieve registered command")
	}

	if cmd.Name != "test_command" {
		t.Errorf("Expected command name 'test_command', got '%s'", cmd.Name)
	}

	// Test dispatch
	var data []byte
	err := registry.Dispatch(id, &data)
	if err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if !called {
		t.Error("Command handler was not called")
	}

	// Test unknown command
	err = registry.Dispatch(999, &data)
	if err == nil {
		t.Error("Expected error for unknown command ID")
	}
}

func TestCommandRegistryMultiple(t *testing.T) {
	registry := NewCommandRegistry()

	id1 := registry.Register("command1", "arg1=%u", func(data *[]byte) error { return nil })
	id2 := registry.Register("command2", "arg2=%u", func(data *[]byte) error { return nil })
	id3 := registry.Register("command3", "arg3=%u", func(data *[]byte) error { return nil })

	if id1 != 0 || id2 != 1 || id3 != 2 {
		t.Errorf("Command IDs not sequential: %d, %d, %d", id1, id2, id3)
	}

	// Verify all commands exist
	for i := uint16(0); i < 3; i++ {
		if _, ok := registry.GetCommand(i); !ok {
			t.Errorf("Command %d not found", i)
		}
	}
}

func TestCommandKey(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register("get_uptime", "", func(data *[]byte) error { return nil })
	id := registry.Register("spi_send", "oid=%c data=%*s", func(data *[]byte) error { return nil })

	if registry.Count() != 2 {
		t.Errorf("Count = %d, want 2", registry.Count())
	}
	cmd, _ := registry.GetCommandByName("get_uptime")
	if cmd.Key() != "get_uptime" {
		t.Errorf("Key = %q", cmd.Key())
	}
	cmd, _ = registry.GetCommand(id)
	if cmd.Key() != "spi_send oid=%c data=%*s" {
		t.Errorf("Key = %q", cmd.Key())
	}
	if _, ok := registry.GetCommand(id + 1); ok {
		t.Error("GetCommand past the end succeeded")
	}
}

func TestCommandWithArguments(t *testing.T) {
	registry := NewCommandRegistry()

	var receivedValue uint32

	handler := func(data *[]byte) error {
		val, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		receivedValue = val
		return nil
	}

	id := registry.Register("test_args", "value=%u", handler)

	// Create test data
	output := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(output, 12345)
	data := output.Result()

	err := registry.Dispatch(id, &data)
	if err != nil {
		t.Errorf("Dispatch failed: %v", err)
	}

	if receivedValue != 12345 {
		t.Errorf("Expected value 12345, got %d", receivedValue)
	}
}

func TestGlobalRegistry(t *testing.T) {
	resetCore(t)

	id := RegisterCommand("global_test", "arg=%u", func(data *[]byte) error { return nil })
	cmd, ok := GetGlobalRegistry().GetCommandByName("global_test")
	if !ok || cmd.ID != id {
		t.Errorf("global_test = %v, %v; want ID %d", cmd, ok, id)
	}
}

func TestCommandFlags(t *testing.T) {
	registry := NewCommandRegistry()

	id := registry.RegisterFlags("status", "", HFInShutdown, func(data *[]byte) error { return nil })
	cmd, _ := registry.GetCommand(id)
	if cmd.Flags&HFInShutdown == 0 {
		t.Error("HFInShutdown flag lost")
	}

	// Re-registering keeps the first ID
	if again := registry.Register("status", "", nil); again != id {
		t.Errorf("re-register returned ID %d, want %d", again, id)
	}
}

func TestDispatchResponseIsError(t *testing.T) {
	registry := NewCommandRegistry()
	id := registry.Register("clock", "clock=%u", nil)

	var data []byte
	if err := registry.Dispatch(id, &data); !errors.Is(err, errNotACommand) {
		t.Errorf("dispatching a response: err = %v", err)
	}
}

func TestCommandsAndResponsesSplit(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("identify_response", "offset=%u data=%*s", nil)
	registry.Register("identify", "offset=%u count=%c", func(data *[]byte) error { return nil })

	commands, responses := registry.GetCommandsAndResponses()
	if commands["identify offset=%u count=%c"] != 1 {
		t.Errorf("commands = %v", commands)
	}
	if id, ok := responses["identify_response offset=%u data=%*s"]; !ok || id != 0 {
		t.Errorf("responses = %v", responses)
	}
}
