package core

import "testing"

func TestTimerIsBefore(t *testing.T) {
	tests := []struct {
		a, b uint32
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{5, 5, false},
		{0xFFFFFFF0, 0x10, true}, // b has wrapped
		{0x10, 0xFFFFFFF0, false},
	}
	for _, tt := range tests {
		if got := TimerIsBefore(tt.a, tt.b); got != tt.want {
			t.Errorf("TimerIsBefore(%#x, %#x) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTimerConversions(t *testing.T) {
	defer SetTimerFrequency(TimerFreq)

	SetTimerFrequency(400000000)
	if got := TimerFromUS(1); got != 400 {
		t.Errorf("TimerFromUS(1) at 400MHz = %d", got)
	}
	// 10ms at 400MHz does not fit in 32 bits before the divide
	if got := TimerFromUS(10000); got != 4000000 {
		t.Errorf("TimerFromUS(10000) = %d", got)
	}
	if got := TimerToUS(4000000); got != 10000 {
		t.Errorf("TimerToUS(4000000) = %d", got)
	}

	SetTimerFrequency(TimerFreq)
	if got := TimerFromUS(1); got != 12 {
		t.Errorf("TimerFromUS(1) at default = %d", got)
	}
}

func TestTimeSource(t *testing.T) {
	defer SetTimeSource(nil)

	SetTime(42)
	if GetTime() != 42 {
		t.Errorf("GetTime = %d without a source", GetTime())
	}

	counter := uint32(1000)
	SetTimeSource(func() uint32 { counter += 10; return counter })
	var timer SystemTimer
	if a, b := timer.Now(), timer.Now(); b-a != 10 {
		t.Errorf("SystemTimer.Now did not read the source: %d then %d", a, b)
	}
}

func TestUptimeTracksWrap(t *testing.T) {
	defer func() { uptimeHigh, uptimeLast = 0, 0 }()
	uptimeHigh, uptimeLast = 0, 0

	SetTime(0xFFFFFF00)
	if got := GetUptime(); got != 0xFFFFFF00 {
		t.Errorf("uptime = %#x", got)
	}
	SetTime(0x100)
	if got := GetUptime(); got != 0x1_0000_0100 {
		t.Errorf("uptime after wrap = %#x", got)
	}
}
