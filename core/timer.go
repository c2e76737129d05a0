package core

import "sync/atomic"

// TimerFreq is the default tick rate until a target calls SetTimerFrequency.
const TimerFreq = 12000000

var (
	systemTicks uint32 // atomic
	timerFreq   uint32 = TimerFreq
	timeSource  func() uint32
)

// SetTimeSource installs the hardware counter GetTime reads from. With no
// source, GetTime returns the value last given to SetTime.
func SetTimeSource(src func() uint32) {
	timeSource = src
}

// SetTimerFrequency sets the tick rate used by the conversion helpers.
func SetTimerFrequency(hz uint32) {
	atomic.StoreUint32(&timerFreq, hz)
}

// GetTimerFrequency returns the tick rate in Hz.
func GetTimerFrequency() uint32 {
	return atomic.LoadUint32(&timerFreq)
}

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	if src := timeSource; src != nil {
		return src()
	}
	return atomic.LoadUint32(&systemTicks)
}

// SetTime sets the current system time (for testing)
func SetTime(ticks uint32) {
	atomic.StoreUint32(&systemTicks, ticks)
}

var uptimeHigh, uptimeLast uint32

// GetUptime returns 64-bit uptime in timer ticks. The high word advances
// when GetTime is seen to wrap, so it must be called more often than the
// counter wraps (get_uptime and the main loop both do).
func GetUptime() uint64 {
	now := GetTime()
	if now < uptimeLast {
		uptimeHigh++
	}
	uptimeLast = now
	return uint64(uptimeHigh)<<32 | uint64(now)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32(uint64(us) * uint64(GetTimerFrequency()) / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32(uint64(ticks) * 1000000 / uint64(GetTimerFrequency()))
}

// TimerIsBefore reports whether time a is before b, accounting for wrap.
func TimerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

// SystemTimer exposes GetTime and TimerFromUS as a tick source for drivers.
type SystemTimer struct{}

func (SystemTimer) Now() uint32 { return GetTime() }

func (SystemTimer) FromMicros(us uint32) uint32 { return TimerFromUS(us) }
