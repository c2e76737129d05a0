// SPI device commands (Klipper spicmds)
package core

import (
	"golang.org/x/exp/slices"

	"gopperh7/protocol"
)

// SPI device flags
const (
	SF_CS_ACTIVE_HIGH = 0x02 // Chip select active high (default is active low)
	SF_HAVE_PIN       = 0x04 // Has chip select pin
	SF_HAVE_BUS       = 0x08 // spi_set_bus has run
)

// SPIDevice represents a configured SPI device
type SPIDevice struct {
	OID   uint8  // Object ID
	Flags uint8  // Device flags (CS polarity, configured bus, ...)
	Pin   uint32 // Chip select pin (if SF_HAVE_PIN is set)

	// Bus configuration (set by spi_set_bus)
	BusHandle interface{} // Opaque handle from ConfigureBus
	BusID     SPIBusID    // Hardware bus ID
	Mode      SPIMode     // SPI mode (0-3)
	Rate      uint32      // Clock rate in Hz
}

// spiShutdown is a message sent to a device when the firmware shuts down,
// e.g. to put a stepper driver into standby.
type spiShutdown struct {
	OID    uint8
	Device *SPIDevice
	Msg    []byte
}

var (
	spiDevices   = make(map[uint8]*SPIDevice)
	spiShutdowns = make(map[uint8]*spiShutdown)
)

// InitSPICommands registers SPI-related commands with the command registry
func InitSPICommands() {
	RegisterCommand("config_spi", "oid=%c pin=%u cs_active_high=%c", handleConfigSPI)
	RegisterCommand("config_spi_without_cs", "oid=%c", handleConfigSPIWithoutCS)
	RegisterCommand("spi_set_bus", "oid=%c spi_bus=%u mode=%u rate=%u", handleSPISetBus)
	RegisterCommand("config_spi_shutdown", "oid=%c spi_oid=%c shutdown_msg=%*s", handleConfigSPIShutdown)
	RegisterCommand("spi_transfer", "oid=%c data=%*s", handleSPITransfer)
	RegisterCommand("spi_send", "oid=%c data=%*s", handleSPISend)

	RegisterResponse("spi_transfer_response", "oid=%c response=%*s")

	RegisterShutdownHandler(ShutdownSPI)
	RegisterConfigResetHandler(resetSPIDevices)
}

// handleConfigSPI configures an SPI device with a chip select pin
// Format: config_spi oid=%c pin=%u cs_active_high=%c
func handleConfigSPI(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	pin, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	csActiveHigh, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dev := &SPIDevice{
		OID:   uint8(oid),
		Flags: SF_HAVE_PIN,
		Pin:   pin,
	}
	if csActiveHigh != 0 {
		dev.Flags |= SF_CS_ACTIVE_HIGH
	}

	// Park CS at its inactive level
	if err := MustGPIO().ConfigureOutput(GPIOPin(pin), csActiveHigh == 0); err != nil {
		return err
	}

	spiDevices[uint8(oid)] = dev
	return nil
}

// handleConfigSPIWithoutCS configures an SPI device without a chip select pin
// Format: config_spi_without_cs oid=%c
func handleConfigSPIWithoutCS(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	spiDevices[uint8(oid)] = &SPIDevice{OID: uint8(oid)}
	return nil
}

// handleSPISetBus configures the SPI bus parameters for a device
// Format: spi_set_bus oid=%c spi_bus=%u mode=%u rate=%u
func handleSPISetBus(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	spiBus, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	mode, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	rate, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	dev := lookupSPIDevice(uint8(oid))

	// SPIBusID is 8 bits; a larger value must not wrap onto a valid bus.
	if spiBus > 0xFF {
		Shutdown("Invalid spi bus")
	}

	config := SPIConfig{
		BusID: SPIBusID(spiBus),
		Mode:  SPIMode(mode),
		Rate:  rate,
	}
	busHandle, err := MustSPI().ConfigureBus(config)
	if err != nil {
		return err
	}

	dev.BusHandle = busHandle
	dev.BusID = config.BusID
	dev.Mode = config.Mode
	dev.Rate = rate
	dev.Flags |= SF_HAVE_BUS
	return nil
}

// handleConfigSPIShutdown configures a message to send on MCU shutdown
// Format: config_spi_shutdown oid=%c spi_oid=%c shutdown_msg=%*s
func handleConfigSPIShutdown(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	spiOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	msg, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev := lookupSPIDevice(uint8(spiOID))

	// msg aliases the receive buffer
	saved := make([]byte, len(msg))
	copy(saved, msg)

	spiShutdowns[uint8(oid)] = &spiShutdown{
		OID:    uint8(oid),
		Device: dev,
		Msg:    saved,
	}
	return nil
}

// lookupSPIDevice returns the device for oid. An unknown oid is a host
// configuration error and shuts the firmware down.
func lookupSPIDevice(oid uint8) *SPIDevice {
	dev, ok := spiDevices[oid]
	if !ok {
		Shutdown("Invalid oid type")
	}
	return dev
}

func csLevel(dev *SPIDevice, active bool) bool {
	activeHigh := dev.Flags&SF_CS_ACTIVE_HIGH != 0
	return active == activeHigh
}

// SPIDeviceTransfer runs one transaction on dev: prepare the bus, assert
// CS, exchange data in place, release CS.
func SPIDeviceTransfer(dev *SPIDevice, receive bool, data []byte) error {
	if dev.Flags&SF_HAVE_BUS == 0 {
		Shutdown("spi_set_bus not sent")
	}
	driver := MustSPI()
	if err := driver.Prepare(dev.BusHandle); err != nil {
		return err
	}

	if dev.Flags&SF_HAVE_PIN != 0 {
		if err := MustGPIO().SetPin(GPIOPin(dev.Pin), csLevel(dev, true)); err != nil {
			return err
		}
	}

	err := driver.Transfer(dev.BusHandle, receive, data)

	if dev.Flags&SF_HAVE_PIN != 0 {
		if gpioErr := MustGPIO().SetPin(GPIOPin(dev.Pin), csLevel(dev, false)); gpioErr != nil && err == nil {
			err = gpioErr
		}
	}

	return err
}

// handleSPITransfer sends and receives SPI data
// Format: spi_transfer oid=%c data=%*s
// Response: spi_transfer_response oid=%c response=%*s
func handleSPITransfer(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev := lookupSPIDevice(uint8(oid))

	buf := make([]byte, len(payload))
	copy(buf, payload)
	if err := SPIDeviceTransfer(dev, true, buf); err != nil {
		return err
	}

	SendResponse("spi_transfer_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, oid)
		protocol.EncodeVLQBytes(output, buf)
	})
	return nil
}

// handleSPISend sends SPI data without receiving
// Format: spi_send oid=%c data=%*s
func handleSPISend(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}

	dev := lookupSPIDevice(uint8(oid))

	// receive=false leaves payload untouched, so no copy is needed
	return SPIDeviceTransfer(dev, false, payload)
}

// ShutdownSPI releases every chip select and then sends the configured
// shutdown messages. Registered as a shutdown handler.
func ShutdownSPI() {
	for _, dev := range spiDevices {
		if dev.Flags&SF_HAVE_PIN != 0 {
			_ = MustGPIO().SetPin(GPIOPin(dev.Pin), csLevel(dev, false))
		}
	}

	for _, oid := range sortedShutdownOIDs() {
		sd := spiShutdowns[oid]
		if sd.Device.Flags&SF_HAVE_BUS == 0 {
			continue
		}
		RecordTiming(EvtSPIShutdown, sd.OID, GetTime(), uint32(len(sd.Msg)), 0)
		msg := make([]byte, len(sd.Msg))
		copy(msg, sd.Msg)
		_ = SPIDeviceTransfer(sd.Device, false, msg)
	}
}

func sortedShutdownOIDs() []uint8 {
	oids := make([]uint8, 0, len(spiShutdowns))
	for oid := range spiShutdowns {
		oids = append(oids, oid)
	}
	slices.Sort(oids)
	return oids
}

// resetSPIDevices forgets every configured device (config_reset).
func resetSPIDevices() {
	spiDevices = make(map[uint8]*SPIDevice)
	spiShutdowns = make(map[uint8]*spiShutdown)
}

// GetSPIDevice returns the device configured under oid.
func GetSPIDevice(oid uint8) (*SPIDevice, bool) {
	dev, ok := spiDevices[oid]
	return dev, ok
}
