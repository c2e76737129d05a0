package h7spi

// Reg names one register of an SPI block.
type Reg uint8

const (
	CR1 Reg = iota
	CR2
	CFG1
	CFG2
	IER
	SR
	IFCR
	TXDR
	RXDR

	numRegs
)

var regNames = [numRegs]string{"CR1", "CR2", "CFG1", "CFG2", "IER", "SR", "IFCR", "TXDR", "RXDR"}

func (r Reg) String() string {
	if r >= numRegs {
		return "REG?"
	}
	return regNames[r]
}

// Register bits, RM0433 section 50.11.
const (
	SPI_CR1_SPE    = 1 << 0
	SPI_CR1_CSTART = 1 << 9
	SPI_CR1_SSI    = 1 << 12

	SPI_CR2_TSIZE_Pos = 0
	SPI_CR2_TSIZE_Msk = 0xFFFF << SPI_CR2_TSIZE_Pos

	SPI_CFG1_DSIZE_Pos = 0
	SPI_CFG1_MBR_Pos   = 28

	SPI_CFG2_CPHA_Pos = 24
	SPI_CFG2_CPHA     = 1 << 24
	SPI_CFG2_CPOL     = 1 << 25
	SPI_CFG2_MASTER   = 1 << 22
	SPI_CFG2_SSM      = 1 << 26
	SPI_CFG2_SSOE     = 1 << 29
	SPI_CFG2_AFCNTR   = 1 << 31

	SPI_SR_RXP = 1 << 0
	SPI_SR_TXP = 1 << 1
	SPI_SR_EOT = 1 << 3
)

// Peripheral is the register block of one SPI instance. Data register
// accesses are 8 bits wide; a 32-bit TXDR write would queue four frames.
type Peripheral interface {
	Load(r Reg) uint32
	Store(r Reg, v uint32)
	WriteData(b byte)
	ReadData() byte
}

// PinMux routes a GPIO to an alternate function.
type PinMux interface {
	ConfigureAlternate(pin Pin, function uint8, pullUp bool)
}

// ClockGate controls and reports the kernel clock of a peripheral.
type ClockGate interface {
	IsEnabled(inst Instance) bool
	Enable(inst Instance)
	Frequency(inst Instance) uint32
}

// Timer is a free-running 32-bit tick counter. core.SystemTimer satisfies it.
type Timer interface {
	Now() uint32
	FromMicros(us uint32) uint32
}
