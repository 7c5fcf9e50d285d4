package core

import (
	"testing"

	"rampon/protocol"
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
		t.Fatal("Failed to retrieve registered command")
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
	if err != ErrUnknownCommand {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
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

	// Re-registering keeps the original ID
	if again := registry.Register("command2", "arg2=%u", nil); again != id2 {
		t.Errorf("Re-registration changed ID: %d != %d", again, id2)
	}

	if registry.Count() != 3 {
		t.Errorf("Expected 3 commands, got %d", registry.Count())
	}
}

func TestCommandRegistryResponses(t *testing.T) {
	registry := NewCommandRegistry()

	registry.RegisterResponse("identify_response", "offset=%u data=%*s")
	registry.Register("identify", "offset=%u count=%c", func(data *[]byte) error { return nil })
	registry.Register("get_uptime", "", func(data *[]byte) error { return nil })

	commands, responses := registry.GetCommandsAndResponses()

	if id, ok := responses["identify_response offset=%u data=%*s"]; !ok || id != 0 {
		t.Errorf("identify_response missing or wrong id: %v %d", ok, id)
	}
	if id, ok := commands["identify offset=%u count=%c"]; !ok || id != 1 {
		t.Errorf("identify missing or wrong id: %v %d", ok, id)
	}
	if _, ok := commands["get_uptime"]; !ok {
		t.Error("get_uptime without format should be keyed by bare name")
	}

	// Responses cannot be dispatched
	var data []byte
	if err := registry.Dispatch(0, &data); err != ErrUnknownCommand {
		t.Errorf("Expected ErrUnknownCommand dispatching a response, got %v", err)
	}

	if cmd, ok := registry.GetCommandByName("get_uptime"); !ok || cmd.ID != 2 {
		t.Error("GetCommandByName failed for get_uptime")
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
