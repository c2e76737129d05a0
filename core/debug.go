package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a timing-critical event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	OID       uint8  // Object ID or bus instance
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtSPISetup    = 1 // bus resolved: v1=instance v2=divisor
	EvtSPIPrepare  = 2 // mode registers loaded: v1=mode
	EvtSPITransfer = 3 // exchange finished: v1=length v2=ticks spent
	EvtSPIShutdown = 4 // shutdown message sent: v1=length
	EvtShutdown    = 5 // firmware shutdown
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var eventNames = [...]string{
	EvtSPISetup:    "SPI_SETUP",
	EvtSPIPrepare:  "SPI_PREPARE",
	EvtSPITransfer: "SPI_XFER",
	EvtSPIShutdown: "SPI_SHUTDOWN",
	EvtShutdown:    "SHUTDOWN!",
}

var (
	// debugPrintln is replaced by platform code; the default drops output.
	debugPrintln DebugWriter = func(s string) {}

	debugEnabled bool

	// Timing capture ring for post-mortem dumps
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8 // next write position

	timingEnabled = true

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// SetTimingEnabled turns timing capture on or off.
func SetTimingEnabled(enabled bool) {
	timingEnabled = enabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message using the platform-specific writer.
// It blocks until the writer returns; use DebugAsync from time-critical code.
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output. Without
// InitAsyncDebug it falls back to DebugPrintln. A full queue drops the
// message.
func DebugAsync(msg string) {
	if debugChan == nil {
		DebugPrintln(msg)
		return
	}
	if !debugEnabled {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordTiming captures a timing event in the ring buffer
func RecordTiming(eventType, oid uint8, clock, value1, value2 uint32) {
	if !timingEnabled {
		return
	}
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		OID:       oid,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
}

// TimingEvents returns the recorded events from oldest to newest.
func TimingEvents() []TimingEvent {
	events := make([]TimingEvent, 0, TimingRingSize)
	start := timingRingHead
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue
		}
		events = append(events, evt)
	}
	return events
}

// DumpTimingRing outputs the timing ring buffer (call on shutdown/error)
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	for _, evt := range TimingEvents() {
		name := "UNKNOWN"
		if int(evt.EventType) < len(eventNames) && eventNames[evt.EventType] != "" {
			name = eventNames[evt.EventType]
		}
		debugPrintln("[TIMING] " + name +
			" oid=" + itoa(int(evt.OID)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
}
