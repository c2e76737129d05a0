package core

import (
	"sync"
	"sync/atomic"

	"gopperh7/protocol"
)

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  uint32 // atomic
	isShutdown uint32 // atomic bool
	moveCount  uint16

	mu             sync.Mutex
	shutdownReason string
}

var globalState = &FirmwareState{
	moveCount: 16, // Command queue size - minimum for Klipper
}

var (
	shutdownHandlers []func()
	resetHandlers    []func()
)

// ShutdownError is the panic value raised by Shutdown. The transport
// recovers it at the frame boundary and carries on in shutdown state.
type ShutdownError struct {
	Reason string
}

func (e *ShutdownError) Error() string {
	return "shutdown: " + e.Reason
}

// InitCoreCommands registers all core protocol commands
// IMPORTANT: Command registration order matters!
// Klipper has a hardcoded bootstrap dictionary:
//
//	identify_response = ID 0
//	identify = ID 1
func InitCoreCommands() {
	RegisterResponse("identify_response", "offset=%u data=%*s")                          // ID 0
	RegisterCommandFlags("identify", "offset=%u count=%c", HFInShutdown, handleIdentify) // ID 1

	RegisterCommandFlags("get_uptime", "", HFInShutdown, handleGetUptime)
	RegisterCommandFlags("get_clock", "", HFInShutdown, handleGetClock)
	RegisterCommandFlags("get_config", "", HFInShutdown, handleGetConfig)
	RegisterCommandFlags("config_reset", "", HFInShutdown, handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("allocate_oids", "count=%c", handleAllocateOids)
	RegisterCommandFlags("emergency_stop", "", HFInShutdown, handleEmergencyStop)
	RegisterCommandFlags("reset", "", HFInShutdown, handleReset)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
	RegisterResponse("shutdown", "clock=%u reason=%*s")
	RegisterResponse("is_shutdown", "reason=%*s")

	// MCU and CLOCK_FREQ are registered by the target
	RegisterConstant("STATS_SUMSQ_BASE", uint32(256))
}

// RegisterShutdownHandler adds fn to the list run once when the firmware
// shuts down.
func RegisterShutdownHandler(fn func()) {
	shutdownHandlers = append(shutdownHandlers, fn)
}

// RegisterConfigResetHandler adds fn to the list run by config_reset.
func RegisterConfigResetHandler(fn func()) {
	resetHandlers = append(resetHandlers, fn)
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))

	SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})

	return nil
}

func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()

	SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})

	return nil
}

func handleGetClock(data *[]byte) error {
	clock := GetTime()

	SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})

	return nil
}

// handleGetConfig returns the configuration state
func handleGetConfig(data *[]byte) error {
	crc := atomic.LoadUint32(&globalState.configCRC)

	SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolToUint(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolToUint(IsShutdown()))
		protocol.EncodeVLQUint(output, uint32(globalState.moveCount))
	})

	return nil
}

// handleConfigReset clears the configuration so the host can configure
// again. Only allowed after a shutdown.
func handleConfigReset(data *[]byte) error {
	if !IsShutdown() {
		Shutdown("config_reset only available when shutdown")
	}
	for _, fn := range resetHandlers {
		fn()
	}
	ResetFirmwareState()
	return nil
}

// handleFinalizeConfig finalizes the configuration with a CRC
func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	atomic.StoreUint32(&globalState.configCRC, crc)
	return nil
}

// handleAllocateOids allocates object IDs (oids live in per-type maps,
// so there is nothing to reserve)
func handleAllocateOids(data *[]byte) error {
	_, err := protocol.DecodeVLQUint(data)
	return err
}

func handleEmergencyStop(data *[]byte) error {
	TryShutdown("Command request")
	return nil
}

// TryShutdown moves the firmware into shutdown state with a reason. The
// first call runs the shutdown handlers and reports the reason to the host;
// later calls do nothing and return false.
func TryShutdown(reason string) bool {
	if !atomic.CompareAndSwapUint32(&globalState.isShutdown, 0, 1) {
		return false
	}
	clock := GetTime()

	globalState.mu.Lock()
	globalState.shutdownReason = reason
	globalState.mu.Unlock()

	RecordTiming(EvtShutdown, 0, clock, 0, 0)
	DebugAsync("[SHUTDOWN] " + reason)

	for _, fn := range shutdownHandlers {
		runShutdownHandler(fn)
	}

	SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
		protocol.EncodeVLQString(output, reason)
	})
	DumpTimingRing()
	return true
}

// runShutdownHandler keeps one failing handler from skipping the rest.
func runShutdownHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(*ShutdownError); !ok {
				panic(r)
			}
		}
	}()
	fn()
}

// Shutdown is the fatal-error path: it calls TryShutdown and then unwinds
// the current command by panicking with a *ShutdownError. It never returns.
func Shutdown(reason string) {
	TryShutdown(reason)
	panic(&ShutdownError{Reason: reason})
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return atomic.LoadUint32(&globalState.isShutdown) != 0
}

// ShutdownReason returns the reason given to the first shutdown, or "".
func ShutdownReason() string {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()
	return globalState.shutdownReason
}

// ResetFirmwareState resets the firmware state for reconnection
func ResetFirmwareState() {
	atomic.StoreUint32(&globalState.configCRC, 0)
	globalState.mu.Lock()
	globalState.shutdownReason = ""
	globalState.mu.Unlock()
	atomic.StoreUint32(&globalState.isShutdown, 0)
}

// ResponseSender is the part of the device transport responses go through.
type ResponseSender interface {
	SendCommand(cmdID uint16, args func(output protocol.OutputBuffer))
}

// Global transport for sending responses (set by main)
var globalTransport ResponseSender

// SetGlobalTransport sets the global transport for sending responses
func SetGlobalTransport(transport ResponseSender) {
	globalTransport = transport
}

// SendResponse sends a response message using the global transport
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) {
	if globalTransport == nil {
		return
	}
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		// all responses are registered at init
		panic("Response not registered: " + responseName)
	}
	globalTransport.SendCommand(cmd.ID, args)
}

// Global reset handler (set by target-specific code)
var globalResetHandler func()

// resetPending is set when a reset command is received
// The actual reset happens in the main loop after ACK is sent
var resetPending uint32 // atomic bool

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

// handleReset defers the MCU reset until the ACK has gone out.
func handleReset(_ *[]byte) error {
	atomic.StoreUint32(&resetPending, 1)
	return nil
}

// CheckPendingReset checks if a reset was requested and executes it
// This should be called from the main loop after all pending messages are sent
func CheckPendingReset() {
	if atomic.LoadUint32(&resetPending) != 0 && globalResetHandler != nil {
		globalResetHandler()
	}
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
