package h7spi

import "sync/atomic"

const (
	// MaxDivisor is the largest CFG1.MBR value (pclk / 256).
	MaxDivisor = 7

	// MaxFIFO limits how far transmit may run ahead of receive so the RX
	// FIFO never overruns. The smallest H7 SPI FIFO is 8 frames deep.
	MaxFIFO = 8

	// MaxTransfer is the width of CR2.TSIZE.
	MaxTransfer = 0xFFFF

	// PolaritySettleMicros is how long the clock line gets to reach its new
	// idle level after CPOL changes.
	PolaritySettleMicros = 1
)

// Config is a resolved bus setup. It is a plain value: keep it, copy it,
// rebuild it per transaction. The peripheral's mode registers are shared,
// so two Configs for the same Instance must each be Prepared before use.
type Config struct {
	Instance Instance
	Div      uint8 // CFG1.MBR, rate = pclk >> (Div+1)
	Mode     uint8 // bit 0 CPHA, bit 1 CPOL
}

// Rate returns the bit rate this Config produces from a kernel clock.
func (c Config) Rate(pclk uint32) uint32 {
	return pclk >> (c.Div + 1)
}

// Divisor returns the smallest MBR value whose rate does not exceed rate,
// clamped to MaxDivisor when even pclk/256 is too fast.
func Divisor(pclk, rate uint32) uint8 {
	var div uint8
	for (pclk>>(div+1)) > rate && div < MaxDivisor {
		div++
	}
	return div
}

// ActivationSet records which peripherals already have their clock and
// pins set up. The zero value is empty.
type ActivationSet struct {
	bits uint32 // atomic
}

// TryActivate marks inst as active. It returns true only for the call that
// flipped the bit.
func (s *ActivationSet) TryActivate(inst Instance) bool {
	mask := uint32(1) << inst
	for {
		old := atomic.LoadUint32(&s.bits)
		if old&mask != 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&s.bits, old, old|mask) {
			return true
		}
	}
}

// Active reports whether inst has been activated.
func (s *ActivationSet) Active(inst Instance) bool {
	return atomic.LoadUint32(&s.bits)&(uint32(1)<<inst) != 0
}

// Reset forgets every activation.
func (s *ActivationSet) Reset() {
	atomic.StoreUint32(&s.bits, 0)
}

// Options wires a Controller to its hardware.
type Options struct {
	Table     *BusTable
	Registers func(Instance) Peripheral
	Clocks    ClockGate
	Pins      PinMux
	Timer     Timer

	// Fault halts the firmware with a reason. It must not return.
	Fault func(reason string)
}

// Controller owns the SPI blocks of one chip. It does no locking: callers
// must not run transfers on the same instance from two contexts.
type Controller struct {
	table  *BusTable
	regs   func(Instance) Peripheral
	clocks ClockGate
	pins   PinMux
	timer  Timer
	fault  func(reason string)
	active ActivationSet
}

// NewController creates a Controller. A nil Fault panics with the reason.
func NewController(opts Options) *Controller {
	c := &Controller{
		table:  opts.Table,
		regs:   opts.Registers,
		clocks: opts.Clocks,
		pins:   opts.Pins,
		timer:  opts.Timer,
		fault:  opts.Fault,
	}
	if c.fault == nil {
		c.fault = func(reason string) { panic(reason) }
	}
	return c
}

// Table returns the bus table the controller resolves against.
func (c *Controller) Table() *BusTable { return c.table }

// Activations exposes the activation bitmap.
func (c *Controller) Activations() *ActivationSet { return &c.active }

// Setup resolves a bus index into a Config. The first Setup touching a
// peripheral enables its clock and routes its pins; later ones only compute
// the divisor. An unknown bus is fatal.
func (c *Controller) Setup(bus uint32, mode uint8, rate uint32) Config {
	desc, ok := c.table.Lookup(bus)
	if !ok {
		c.fault("Invalid spi bus")
		return Config{}
	}

	if c.active.TryActivate(desc.Instance) {
		c.activate(desc)
	}

	pclk := c.clocks.Frequency(desc.Instance)
	return Config{
		Instance: desc.Instance,
		Div:      Divisor(pclk, rate),
		Mode:     mode & 3,
	}
}

func (c *Controller) activate(desc Bus) {
	if !c.clocks.IsEnabled(desc.Instance) {
		c.clocks.Enable(desc.Instance)
	}
	c.pins.ConfigureAlternate(desc.MISO, desc.Function, true)
	c.pins.ConfigureAlternate(desc.MOSI, desc.Function, false)
	c.pins.ConfigureAlternate(desc.SCK, desc.Function, false)
}
