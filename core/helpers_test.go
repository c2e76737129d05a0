package core

import (
	"testing"

	"gopperh7/protocol"
)

type sentResponse struct {
	Name    string
	Payload []byte
}

// responseRecorder stands in for the device transport.
type responseRecorder struct {
	sent []sentResponse
}

func (r *responseRecorder) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	if args != nil {
		args(out)
	}
	name := "?"
	if cmd, ok := globalRegistry.GetCommand(cmdID); ok {
		name = cmd.Name
	}
	payload := append([]byte(nil), out.Result()...)
	r.sent = append(r.sent, sentResponse{Name: name, Payload: payload})
}

func (r *responseRecorder) named(name string) []sentResponse {
	var out []sentResponse
	for _, s := range r.sent {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// resetCore gives each test a fresh registry, dictionary and firmware
// state with the core and SPI commands registered.
func resetCore(t *testing.T) *responseRecorder {
	t.Helper()

	globalRegistry = NewCommandRegistry()
	globalDictionary = NewDictionary(globalRegistry)
	shutdownHandlers = nil
	resetHandlers = nil
	resetSPIDevices()
	ResetFirmwareState()
	ClearTimingRing()
	SetTime(0)

	rec := &responseRecorder{}
	SetGlobalTransport(rec)

	InitCoreCommands()
	InitSPICommands()

	t.Cleanup(func() {
		SetGlobalTransport(nil)
		SetSPIDriver(nil)
		SetGPIODriver(nil)
		ResetFirmwareState()
	})
	return rec
}

// encodeArgs builds a command payload from VLQ integers and byte strings.
func encodeArgs(args ...interface{}) []byte {
	out := protocol.NewScratchOutput()
	for _, a := range args {
		switch v := a.(type) {
		case int:
			protocol.EncodeVLQUint(out, uint32(v))
		case uint32:
			protocol.EncodeVLQUint(out, v)
		case []byte:
			protocol.EncodeVLQBytes(out, v)
		case string:
			protocol.EncodeVLQString(out, v)
		default:
			panic("encodeArgs: unsupported type")
		}
	}
	return append([]byte(nil), out.Result()...)
}

// runCommand dispatches name with args through the global registry and
// returns the recovered shutdown, if any.
func runCommand(t *testing.T, name string, args ...interface{}) (shutdown *ShutdownError) {
	t.Helper()
	cmd, ok := globalRegistry.GetCommandByName(name)
	if !ok {
		t.Fatalf("command %s not registered", name)
	}
	data := encodeArgs(args...)

	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(*ShutdownError)
			if !ok {
				panic(r)
			}
			shutdown = se
		}
	}()
	if err := DispatchCommand(cmd.ID, &data); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return nil
}
