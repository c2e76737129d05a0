package h7spi

// Simulated STM32H7 SPI block plus fake clock, pin and timer hardware.

type regWrite struct {
	Reg Reg
	Val uint32
}

type simPeripheral struct {
	regs [numRegs]uint32

	fifoDepth  int
	shiftEvery int             // status polls per shifted frame
	respond    func(byte) byte // nil echoes

	tx      []byte
	rx      []byte
	started bool
	tsize   int
	written int
	shifted int
	polls   int

	inFlight    int
	maxInFlight int
	overrun     bool
	txOverflow  bool
	rxUnderflow bool
	tooMany     bool

	trace []regWrite
	sent  []byte
}

func newSimPeripheral() *simPeripheral {
	return &simPeripheral{fifoDepth: 8, shiftEvery: 1}
}

func (s *simPeripheral) Load(r Reg) uint32 {
	if r == SR {
		s.polls++
		if s.shiftEvery <= 1 || s.polls%s.shiftEvery == 0 {
			s.shift()
		}
		return s.status()
	}
	return s.regs[r]
}

func (s *simPeripheral) Store(r Reg, v uint32) {
	s.trace = append(s.trace, regWrite{r, v})
	s.regs[r] = v
	if r != CR1 {
		return
	}
	if v&SPI_CR1_SPE == 0 {
		s.started = false
		s.tx, s.rx = nil, nil
		return
	}
	if v&SPI_CR1_CSTART != 0 && !s.started {
		s.started = true
		s.tsize = int(s.regs[CR2] & SPI_CR2_TSIZE_Msk)
		s.written, s.shifted = 0, 0
	}
}

func (s *simPeripheral) WriteData(b byte) {
	s.sent = append(s.sent, b)
	if len(s.tx) >= s.fifoDepth {
		s.txOverflow = true
	}
	s.written++
	if s.written > s.tsize {
		s.tooMany = true
	}
	s.tx = append(s.tx, b)
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
}

func (s *simPeripheral) ReadData() byte {
	if len(s.rx) == 0 {
		s.rxUnderflow = true
		return 0
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	s.inFlight--
	return b
}

func (s *simPeripheral) shift() {
	if !s.started || len(s.tx) == 0 {
		return
	}
	b := s.tx[0]
	s.tx = s.tx[1:]
	if len(s.rx) >= s.fifoDepth {
		s.overrun = true
		return
	}
	if s.respond != nil {
		b = s.respond(b)
	}
	s.rx = append(s.rx, b)
	s.shifted++
}

func (s *simPeripheral) status() uint32 {
	var sr uint32
	if !s.started {
		return sr
	}
	if len(s.tx) < s.fifoDepth && s.written < s.tsize {
		sr |= SPI_SR_TXP
	}
	if len(s.rx) > 0 {
		sr |= SPI_SR_RXP
	}
	if s.shifted >= s.tsize && len(s.tx) == 0 {
		sr |= SPI_SR_EOT
	}
	return sr
}

type simBoard struct {
	blocks map[Instance]*simPeripheral
	fresh  func() *simPeripheral
}

func newSimBoard() *simBoard {
	return &simBoard{blocks: make(map[Instance]*simPeripheral), fresh: newSimPeripheral}
}

func (b *simBoard) block(inst Instance) Peripheral {
	return b.sim(inst)
}

func (b *simBoard) sim(inst Instance) *simPeripheral {
	p, ok := b.blocks[inst]
	if !ok {
		p = b.fresh()
		b.blocks[inst] = p
	}
	return p
}

func (b *simBoard) writes() int {
	n := 0
	for _, p := range b.blocks {
		n += len(p.trace) + len(p.sent)
	}
	return n
}

type fakeClocks struct {
	pclk        uint32
	enabled     map[Instance]bool
	enableCalls []Instance
	freqQueries int
}

func newFakeClocks(pclk uint32) *fakeClocks {
	return &fakeClocks{pclk: pclk, enabled: make(map[Instance]bool)}
}

func (c *fakeClocks) IsEnabled(inst Instance) bool { return c.enabled[inst] }

func (c *fakeClocks) Enable(inst Instance) {
	c.enabled[inst] = true
	c.enableCalls = append(c.enableCalls, inst)
}

func (c *fakeClocks) Frequency(Instance) uint32 {
	c.freqQueries++
	return c.pclk
}

type pinCall struct {
	Pin      Pin
	Function uint8
	PullUp   bool
}

type fakePins struct {
	calls []pinCall
}

func (p *fakePins) ConfigureAlternate(pin Pin, function uint8, pullUp bool) {
	p.calls = append(p.calls, pinCall{pin, function, pullUp})
}

const fakeTicksPerMicro = 400

type fakeTimer struct {
	now        uint32
	step       uint32
	reads      int
	conversion int
}

func (t *fakeTimer) Now() uint32 {
	t.reads++
	v := t.now
	t.now += t.step
	return v
}

func (t *fakeTimer) FromMicros(us uint32) uint32 {
	t.conversion++
	return us * fakeTicksPerMicro
}

type faultPanic string

type rig struct {
	board  *simBoard
	clocks *fakeClocks
	pins   *fakePins
	timer  *fakeTimer
	ctrl   *Controller
}

func newRig(v Variant, pclk uint32) *rig {
	r := &rig{
		board:  newSimBoard(),
		clocks: newFakeClocks(pclk),
		pins:   &fakePins{},
		timer:  &fakeTimer{step: 1},
	}
	r.ctrl = NewController(Options{
		Table:     NewBusTable(v),
		Registers: r.board.block,
		Clocks:    r.clocks,
		Pins:      r.pins,
		Timer:     r.timer,
		Fault:     func(reason string) { panic(faultPanic(reason)) },
	})
	return r
}

// catchFault runs fn and returns the fault reason, or "" if none.
func catchFault(fn func()) (reason string) {
	defer func() {
		if r := recover(); r != nil {
			fp, ok := r.(faultPanic)
			if !ok {
				panic(r)
			}
			reason = string(fp)
		}
	}()
	fn()
	return ""
}
