package h7spi

import (
	"errors"

	"gopperh7/core"

	"tinygo.org/x/drivers"
)

var (
	ErrInvalidHandle  = errors.New("h7spi: invalid SPI bus handle")
	ErrLengthMismatch = errors.New("h7spi: tx and rx buffers must have the same length")
)

// Driver implements core.SPIDriver on top of a Controller.
type Driver struct {
	ctrl *Controller
}

var _ core.SPIDriver = (*Driver)(nil)

// NewDriver wraps ctrl for the core spidev commands.
func NewDriver(ctrl *Controller) *Driver {
	return &Driver{ctrl: ctrl}
}

// ConfigureBus resolves the bus. An unknown bus shuts the firmware down
// through the controller's Fault hook, so the only error is never reached
// in practice.
func (d *Driver) ConfigureBus(config core.SPIConfig) (interface{}, error) {
	cfg := d.ctrl.Setup(uint32(config.BusID), uint8(config.Mode), config.Rate)
	core.RecordTiming(core.EvtSPISetup, uint8(config.BusID), core.GetTime(), uint32(cfg.Instance), uint32(cfg.Div))
	return cfg, nil
}

// Prepare programs the mode registers for a handle from ConfigureBus.
func (d *Driver) Prepare(busHandle interface{}) error {
	cfg, ok := busHandle.(Config)
	if !ok {
		return ErrInvalidHandle
	}
	d.ctrl.Prepare(cfg)
	core.RecordTiming(core.EvtSPIPrepare, uint8(cfg.Instance), core.GetTime(), uint32(cfg.Mode), 0)
	return nil
}

// Transfer exchanges data in place.
func (d *Driver) Transfer(busHandle interface{}, receive bool, data []byte) error {
	cfg, ok := busHandle.(Config)
	if !ok {
		return ErrInvalidHandle
	}
	start := core.GetTime()
	d.ctrl.Transfer(cfg, receive, data)
	core.RecordTiming(core.EvtSPITransfer, uint8(cfg.Instance), start, uint32(len(data)), core.GetTime()-start)
	return nil
}

// GetBusInfo maps bus indexes to "name: miso,mosi,sck".
func (d *Driver) GetBusInfo() map[core.SPIBusID]string {
	info := make(map[core.SPIBusID]string)
	for i, b := range d.ctrl.Table().Buses() {
		info[core.SPIBusID(i)] = b.Name + ": " + b.PinString()
	}
	return info
}

// Device is a single Config exposed as a tinygo.org/x/drivers SPI bus, so
// TinyGo device drivers can share the polled engine. Every call prepares
// the peripheral first because another Device may have changed its mode.
// A Device is not safe for concurrent use.
type Device struct {
	ctrl *Controller
	cfg  Config
}

var _ drivers.SPI = (*Device)(nil)

// Device binds cfg to the controller.
func (c *Controller) Device(cfg Config) *Device {
	return &Device{ctrl: c, cfg: cfg}
}

// Config returns the bound configuration.
func (d *Device) Config() Config { return d.cfg }

// Tx writes w and reads into r. Either may be nil; a nil w clocks out
// zeros. When both are given they must be the same length.
func (d *Device) Tx(w, r []byte) error {
	switch {
	case r == nil:
		// receive=false never writes to the buffer, so w is safe to pass.
		d.ctrl.Prepare(d.cfg)
		d.ctrl.Transfer(d.cfg, false, w)
		return nil
	case w == nil:
		for i := range r {
			r[i] = 0
		}
	case len(w) != len(r):
		return ErrLengthMismatch
	default:
		copy(r, w)
	}
	d.ctrl.Prepare(d.cfg)
	d.ctrl.Transfer(d.cfg, true, r)
	return nil
}

// Transfer exchanges a single byte.
func (d *Device) Transfer(b byte) (byte, error) {
	buf := [1]byte{b}
	d.ctrl.Prepare(d.cfg)
	d.ctrl.Transfer(d.cfg, true, buf[:])
	return buf[0], nil
}
