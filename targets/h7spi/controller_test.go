package h7spi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDivisor(t *testing.T) {
	tests := []struct {
		pclk, rate uint32
		want       uint8
	}{
		{100000000, 1000000, 6},  // 781250 <= 1MHz
		{100000000, 50000000, 0}, // exact match at div 0
		{100000000, 60000000, 0},
		{100000000, 49999999, 1},
		{100000000, 390625, 7},  // exactly pclk/256
		{100000000, 100000, 7},  // clamped, achieved rate exceeds request
		{100000000, 0, 7},       // nothing satisfies, clamp
		{200000000, 4000000, 5}, // 3.125MHz
		{0, 1, 0},
	}

	for _, tt := range tests {
		got := Divisor(tt.pclk, tt.rate)
		if got != tt.want {
			t.Errorf("Divisor(%d, %d) = %d, want %d", tt.pclk, tt.rate, got, tt.want)
		}
	}
}

func TestDivisorIsSmallestSatisfying(t *testing.T) {
	const pclk = 120000000
	for rate := uint32(1); rate < pclk; rate = rate*3 + 7 {
		div := Divisor(pclk, rate)
		if div < MaxDivisor && pclk>>(div+1) > rate {
			t.Fatalf("rate %d: div %d is too fast", rate, div)
		}
		if div > 0 && pclk>>div <= rate {
			t.Fatalf("rate %d: div %d is not minimal", rate, div)
		}
	}
}

func TestSetupEndToEnd(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)

	cfg := r.ctrl.Setup(0, 0, 1000000)

	want := Config{Instance: SPI2, Div: 6, Mode: 0}
	if cfg != want {
		t.Errorf("Setup = %+v, want %+v", cfg, want)
	}
	if got := cfg.Rate(100000000); got != 781250 {
		t.Errorf("Rate = %d, want 781250", got)
	}
	if r.board.writes() != 0 {
		t.Errorf("Setup wrote %d registers, want none", r.board.writes())
	}
}

func TestSetupActivatesOnce(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)

	// spi1 and spi1a share SPI1.
	r.ctrl.Setup(1, 0, 1000000)
	r.ctrl.Setup(2, 3, 4000000)
	r.ctrl.Setup(1, 1, 500000)

	if diff := cmp.Diff([]Instance{SPI1}, r.clocks.enableCalls); diff != "" {
		t.Errorf("clock enables (-want +got):\n%s", diff)
	}
	wantPins := []pinCall{
		{GPIO('A', 6), 5, true},
		{GPIO('A', 7), 5, false},
		{GPIO('A', 5), 5, false},
	}
	if diff := cmp.Diff(wantPins, r.pins.calls); diff != "" {
		t.Errorf("pin routing (-want +got):\n%s", diff)
	}
	if !r.ctrl.Activations().Active(SPI1) {
		t.Error("SPI1 not marked active")
	}
	if r.ctrl.Activations().Active(SPI2) {
		t.Error("SPI2 marked active without a Setup")
	}

	// The clock frequency is queried every time, not cached.
	if r.clocks.freqQueries != 3 {
		t.Errorf("Frequency queried %d times, want 3", r.clocks.freqQueries)
	}
}

func TestSetupSkipsClockAlreadyRunning(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)
	r.clocks.enabled[SPI2] = true

	r.ctrl.Setup(0, 0, 1000000)

	if len(r.clocks.enableCalls) != 0 {
		t.Errorf("Enable called for a running clock: %v", r.clocks.enableCalls)
	}
	if len(r.pins.calls) != 3 {
		t.Errorf("got %d pin calls, want 3", len(r.pins.calls))
	}
}

func TestSetupAfterActivationReset(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)

	r.ctrl.Setup(0, 0, 1000000)
	r.ctrl.Activations().Reset()
	r.ctrl.Setup(3, 0, 1000000) // spi2a, same SPI2

	if len(r.pins.calls) != 6 {
		t.Errorf("got %d pin calls after reset, want 6", len(r.pins.calls))
	}
	if r.pins.calls[3].Pin != GPIO('C', 2) {
		t.Errorf("second activation routed %v first, want PC2", r.pins.calls[3].Pin)
	}
}

func TestSetupInvalidBus(t *testing.T) {
	r := newRig(Variants["stm32h723"], 100000000)

	for _, bus := range []uint32{uint32(r.ctrl.Table().Len()), 200, 0xFFFFFFFF} {
		reason := catchFault(func() { r.ctrl.Setup(bus, 0, 1000000) })
		if reason != "Invalid spi bus" {
			t.Errorf("Setup(%d) fault = %q, want %q", bus, reason, "Invalid spi bus")
		}
	}

	if r.board.writes() != 0 {
		t.Errorf("invalid setup wrote %d registers", r.board.writes())
	}
	if len(r.clocks.enableCalls) != 0 || len(r.pins.calls) != 0 {
		t.Error("invalid setup touched clocks or pins")
	}
}

func TestSetupMasksMode(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)

	cfg := r.ctrl.Setup(0, 0xFE, 1000000)
	if cfg.Mode != 2 {
		t.Errorf("Mode = %d, want 2", cfg.Mode)
	}
}

func TestActivationSet(t *testing.T) {
	var s ActivationSet

	if !s.TryActivate(SPI4) {
		t.Fatal("first TryActivate returned false")
	}
	if s.TryActivate(SPI4) {
		t.Error("second TryActivate returned true")
	}
	if !s.TryActivate(SPI6) {
		t.Error("TryActivate of a different instance returned false")
	}
	if !s.Active(SPI4) || !s.Active(SPI6) || s.Active(SPI1) {
		t.Error("Active reports the wrong set")
	}

	s.Reset()
	if s.Active(SPI4) {
		t.Error("Reset left SPI4 active")
	}
}

func TestNewControllerDefaultFaultPanics(t *testing.T) {
	ctrl := NewController(Options{Table: NewBusTable(Variant{})})

	defer func() {
		if r := recover(); r != "Invalid spi bus" {
			t.Errorf("recovered %v, want the fault reason", r)
		}
	}()
	ctrl.Setup(99, 0, 1)
}
