package h7spi

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gopperh7/core"
	"gopperh7/protocol"
)

func TestDriverConfigureAndTransfer(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)
	d := NewDriver(r.ctrl)

	h, err := d.ConfigureBus(core.SPIConfig{BusID: 1, Mode: 3, Rate: 4000000})
	if err != nil {
		t.Fatalf("ConfigureBus: %v", err)
	}
	cfg, ok := h.(Config)
	if !ok {
		t.Fatalf("handle is %T, want Config", h)
	}
	if want := (Config{Instance: SPI1, Div: 4, Mode: 3}); cfg != want {
		t.Errorf("handle = %+v, want %+v", cfg, want)
	}

	if err := d.Prepare(h); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	buf := []byte{1, 2, 3}
	if err := d.Transfer(h, true, buf); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, r.board.sim(SPI1).sent); diff != "" {
		t.Errorf("bytes on the wire (-want +got):\n%s", diff)
	}
}

func TestDriverRecordsTiming(t *testing.T) {
	core.ClearTimingRing()
	defer core.ClearTimingRing()

	r := newRig(Variants["stm32h743"], 100000000)
	d := NewDriver(r.ctrl)
	h, _ := d.ConfigureBus(core.SPIConfig{BusID: 0, Mode: 0, Rate: 1000000})
	d.Prepare(h)
	d.Transfer(h, false, make([]byte, 5))

	var types []uint8
	for _, e := range core.TimingEvents() {
		types = append(types, e.EventType)
	}
	want := []uint8{core.EvtSPISetup, core.EvtSPIPrepare, core.EvtSPITransfer}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("timing events (-want +got):\n%s", diff)
	}
	if last := core.TimingEvents()[2]; last.Value1 != 5 {
		t.Errorf("transfer event length = %d, want 5", last.Value1)
	}
}

func TestDriverRejectsForeignHandle(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)
	d := NewDriver(r.ctrl)

	if err := d.Prepare("spi2"); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Prepare err = %v", err)
	}
	if err := d.Transfer(nil, true, []byte{1}); !errors.Is(err, ErrInvalidHandle) {
		t.Errorf("Transfer err = %v", err)
	}
	if r.board.writes() != 0 {
		t.Error("a rejected handle reached the hardware")
	}
}

func TestDriverBusInfo(t *testing.T) {
	r := newRig(Variants["stm32h723"], 100000000)
	info := NewDriver(r.ctrl).GetBusInfo()

	if len(info) != r.ctrl.Table().Len() {
		t.Errorf("got %d entries, want %d", len(info), r.ctrl.Table().Len())
	}
	if info[0] != "spi2: PB14,PB15,PB13" {
		t.Errorf("bus 0 = %q", info[0])
	}
	if info[6] != "spi5: PF8,PF9,PF7" {
		t.Errorf("bus 6 = %q", info[6])
	}
}

func TestDeviceTx(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)
	r.board.fresh = func() *simPeripheral {
		s := newSimPeripheral()
		s.respond = func(b byte) byte { return b ^ 0x5A }
		return s
	}
	dev := r.ctrl.Device(r.ctrl.Setup(0, 0, 1000000))
	sim := r.board.sim(SPI2)

	// write only
	w := []byte{0x01, 0x02}
	if err := dev.Tx(w, nil); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x01, 0x02}, w); diff != "" {
		t.Errorf("Tx(w, nil) modified w (-want +got):\n%s", diff)
	}

	// read only clocks zeros
	rd := []byte{0xFF, 0xFF, 0xFF}
	if err := dev.Tx(nil, rd); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x5A, 0x5A, 0x5A}, rd); diff != "" {
		t.Errorf("Tx(nil, r) (-want +got):\n%s", diff)
	}

	// full duplex
	w = []byte{0x10, 0x20}
	rd = make([]byte, 2)
	if err := dev.Tx(w, rd); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x4A, 0x7A}, rd); diff != "" {
		t.Errorf("Tx(w, r) (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x10, 0x20}, w); diff != "" {
		t.Errorf("Tx(w, r) modified w (-want +got):\n%s", diff)
	}

	want := []byte{0x01, 0x02, 0x00, 0x00, 0x00, 0x10, 0x20}
	if diff := cmp.Diff(want, sim.sent); diff != "" {
		t.Errorf("bytes on the wire (-want +got):\n%s", diff)
	}
}

func TestDeviceTxLengthMismatch(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)
	dev := r.ctrl.Device(r.ctrl.Setup(0, 0, 1000000))

	if err := dev.Tx([]byte{1, 2}, make([]byte, 3)); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("err = %v, want ErrLengthMismatch", err)
	}
	if r.board.writes() != 0 {
		t.Error("mismatched Tx touched the hardware")
	}
}

func TestDeviceTransferByte(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)
	r.board.fresh = func() *simPeripheral {
		s := newSimPeripheral()
		s.respond = func(b byte) byte { return b + 1 }
		return s
	}
	dev := r.ctrl.Device(r.ctrl.Setup(1, 2, 1000000))

	got, err := dev.Transfer(0x41)
	if err != nil || got != 0x42 {
		t.Errorf("Transfer(0x41) = %#x, %v", got, err)
	}
	if dev.Config().Mode != 2 {
		t.Errorf("Config().Mode = %d", dev.Config().Mode)
	}
}

func TestDevicesShareInstance(t *testing.T) {
	r := newRig(Variants["stm32h743"], 100000000)
	a := r.ctrl.Device(r.ctrl.Setup(1, 0, 1000000))
	b := r.ctrl.Device(r.ctrl.Setup(2, 3, 8000000))
	sim := r.board.sim(SPI1)

	a.Transfer(0)
	b.Transfer(0)
	a.Transfer(0)

	// every call reprograms the shared mode registers
	var cfg2 []uint32
	for _, w := range sim.trace {
		if w.Reg == CFG2 {
			cfg2 = append(cfg2, w.Val&(SPI_CFG2_CPOL|SPI_CFG2_CPHA))
		}
	}
	want := []uint32{0, SPI_CFG2_CPOL | SPI_CFG2_CPHA, 0}
	if diff := cmp.Diff(want, cfg2); diff != "" {
		t.Errorf("CFG2 mode bits per call (-want +got):\n%s", diff)
	}
}

type pinLevels map[core.GPIOPin]bool

func (p pinLevels) ConfigureOutput(pin core.GPIOPin, v bool) error { p[pin] = v; return nil }
func (p pinLevels) SetPin(pin core.GPIOPin, v bool) error          { p[pin] = v; return nil }

type capture struct {
	frames [][]byte
}

func (c *capture) SendCommand(cmdID uint16, args func(output protocol.OutputBuffer)) {
	out := protocol.NewScratchOutput()
	protocol.EncodeVLQUint(out, uint32(cmdID))
	args(out)
	c.frames = append(c.frames, append([]byte(nil), out.Result()...))
}

func dispatch(t *testing.T, name string, args func(protocol.OutputBuffer)) {
	t.Helper()
	cmd, ok := core.GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		t.Fatalf("%s not registered", name)
	}
	out := protocol.NewScratchOutput()
	args(out)
	data := append([]byte(nil), out.Result()...)
	if err := core.DispatchCommand(cmd.ID, &data); err != nil {
		t.Fatalf("%s: %v", name, err)
	}
}

// The spidev commands drive the engine end to end through the simulated
// peripheral.
func TestSPICommandsOverEngine(t *testing.T) {
	core.InitCoreCommands()
	core.InitSPICommands()

	r := newRig(Variants["stm32h743"], 100000000)
	r.board.fresh = func() *simPeripheral {
		s := newSimPeripheral()
		s.respond = func(b byte) byte { return ^b }
		return s
	}
	pins := pinLevels{}
	out := &capture{}
	core.SetSPIDriver(NewDriver(r.ctrl))
	core.SetGPIODriver(pins)
	core.SetGlobalTransport(out)
	defer core.SetGlobalTransport(nil)

	spi1, _ := r.ctrl.Table().Index("spi1")
	dispatch(t, "config_spi", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 5)
		protocol.EncodeVLQUint(o, 0x24) // PC4
		protocol.EncodeVLQUint(o, 0)
	})
	dispatch(t, "spi_set_bus", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 5)
		protocol.EncodeVLQUint(o, spi1)
		protocol.EncodeVLQUint(o, 1)
		protocol.EncodeVLQUint(o, 2000000)
	})
	dispatch(t, "spi_transfer", func(o protocol.OutputBuffer) {
		protocol.EncodeVLQUint(o, 5)
		protocol.EncodeVLQBytes(o, []byte{0x00, 0xF0})
	})

	if !pins[0x24] {
		t.Error("CS left asserted")
	}
	if len(out.frames) != 1 {
		t.Fatalf("got %d responses, want 1", len(out.frames))
	}
	payload := out.frames[0]
	protocol.DecodeVLQUint(&payload) // response id
	oid, _ := protocol.DecodeVLQUint(&payload)
	data, _ := protocol.DecodeVLQBytes(&payload)
	if oid != 5 {
		t.Errorf("oid = %d", oid)
	}
	if diff := cmp.Diff([]byte{0xFF, 0x0F}, data); diff != "" {
		t.Errorf("spi_transfer_response data (-want +got):\n%s", diff)
	}
	if !r.ctrl.Activations().Active(SPI1) {
		t.Error("SPI1 not activated by spi_set_bus")
	}
}
