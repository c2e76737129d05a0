package core

// SPIBusID is an index into the target's "spi_bus" enumeration.
type SPIBusID uint8

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIConfig holds the configuration for an SPI bus
type SPIConfig struct {
	BusID SPIBusID // Hardware bus identifier
	Mode  SPIMode  // SPI mode (0-3)
	Rate  uint32   // Maximum clock rate in Hz
}

// SPIDriver is the abstract SPI interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type SPIDriver interface {
	// ConfigureBus resolves a bus and returns an opaque handle for it.
	// An unknown bus is fatal on the MCU and may never return.
	ConfigureBus(config SPIConfig) (interface{}, error)

	// Prepare loads the handle's mode and rate into the peripheral.
	// Must be called before each transaction because several devices
	// may share one peripheral.
	Prepare(busHandle interface{}) error

	// Transfer clocks data out. With receive set, the received bytes
	// replace data in place.
	Transfer(busHandle interface{}, receive bool, data []byte) error

	// GetBusInfo returns information about available SPI buses
	// Returns a map of bus IDs to human-readable descriptions
	GetBusInfo() map[SPIBusID]string
}

var spiDriver SPIDriver

// SetSPIDriver is called by target-specific code to register its hardware SPI driver
func SetSPIDriver(d SPIDriver) {
	spiDriver = d
}

// MustSPI returns the configured hardware SPI driver or panics if missing
func MustSPI() SPIDriver {
	if spiDriver == nil {
		panic("SPI driver not configured")
	}
	return spiDriver
}
