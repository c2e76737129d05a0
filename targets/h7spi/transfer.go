package h7spi

import "gopperh7/core"

// Prepare loads the divisor, frame size and mode of cfg into the
// peripheral. When the clock polarity changes it waits for the line to
// settle before returning.
func (c *Controller) Prepare(cfg Config) {
	p := c.regs(cfg.Instance)

	p.Store(CFG1, uint32(cfg.Div)<<SPI_CFG1_MBR_Pos|7<<SPI_CFG1_DSIZE_Pos)

	cfg2 := uint32(cfg.Mode&3)<<SPI_CFG2_CPHA_Pos | SPI_CFG2_MASTER |
		SPI_CFG2_SSM | SPI_CFG2_AFCNTR | SPI_CFG2_SSOE
	diff := p.Load(CFG2) ^ cfg2
	p.Store(CFG2, cfg2)
	if diff&SPI_CFG2_CPOL == 0 {
		return
	}

	end := c.timer.Now() + c.timer.FromMicros(PolaritySettleMicros)
	for core.TimerIsBefore(c.timer.Now(), end) {
	}
}

// Transfer clocks len(data) bytes out of data. With receive set, each
// received byte overwrites the byte that was sent from the same position;
// otherwise data is left untouched. Transfer blocks until the peripheral
// reports end of transfer and has no timeout.
func (c *Controller) Transfer(cfg Config, receive bool, data []byte) {
	n := len(data)
	if n > MaxTransfer {
		c.fault("Invalid spi transfer length")
		return
	}
	p := c.regs(cfg.Instance)

	p.Store(CR2, uint32(n)<<SPI_CR2_TSIZE_Pos)
	// SPE must be set before CSTART, in two separate writes.
	p.Store(CR1, SPI_CR1_SSI|SPI_CR1_SPE)
	p.Store(CR1, SPI_CR1_SSI|SPI_CR1_CSTART|SPI_CR1_SPE)

	send, recv := 0, 0
	for recv < n {
		sr := p.Load(SR) & (SPI_SR_TXP | SPI_SR_RXP)
		if sr == SPI_SR_TXP && send < n && send < recv+MaxFIFO {
			p.WriteData(data[send])
			send++
		}
		if sr&SPI_SR_RXP == 0 {
			continue
		}
		b := p.ReadData()
		if receive {
			data[recv] = b
		}
		recv++
	}

	// TSIZE=0 runs an endless transfer on this block, so EOT never comes.
	for n > 0 && p.Load(SR)&SPI_SR_EOT == 0 {
	}

	p.Store(IFCR, 0xFFFFFFFF)
	p.Store(CR1, SPI_CR1_SSI)
}
