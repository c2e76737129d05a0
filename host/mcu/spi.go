package mcu

import (
	"errors"
	"fmt"
)

var ErrUnknownBus = errors.New("mcu: unknown spi bus")

// NoCS configures an SPI device without a chip select pin.
const NoCS = -1

// SPIDevice is an spidev oid configured on the MCU.
type SPIDevice struct {
	m   *MCU
	OID uint8
	Bus SPIBus
}

// ConfigureSPI sets up oid on the named bus. csPin is the Klipper pin
// number (port*16+pin) or NoCS.
func (m *MCU) ConfigureSPI(oid uint8, bus string, mode uint8, rate uint32, csPin int) (*SPIDevice, error) {
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	buses, err := m.dictionary.SPIBuses()
	if err != nil {
		return nil, err
	}
	var desc *SPIBus
	for i := range buses {
		if buses[i].Name == bus {
			desc = &buses[i]
		}
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBus, bus)
	}

	if csPin == NoCS {
		err = m.Send("config_spi_without_cs", oid)
	} else {
		err = m.Send("config_spi", oid, uint32(csPin), 0)
	}
	if err != nil {
		return nil, err
	}
	if err := m.Send("spi_set_bus", oid, desc.Index, mode, rate); err != nil {
		return nil, err
	}
	m.log.Debug("spi device configured", "oid", oid, "bus", bus, "mode", mode, "rate", rate)
	return &SPIDevice{m: m, OID: oid, Bus: *desc}, nil
}

// Transfer clocks data out and returns what the device sent back.
func (d *SPIDevice) Transfer(data []byte) ([]byte, error) {
	f, err := d.m.Query("spi_transfer_response", "spi_transfer", d.OID, data)
	if err != nil {
		return nil, err
	}
	if oid := f["oid"].(int64); oid != int64(d.OID) {
		return nil, fmt.Errorf("spi_transfer_response for oid %d, want %d", oid, d.OID)
	}
	return f["response"].([]byte), nil
}

// Send clocks data out and discards the reply.
func (d *SPIDevice) Send(data []byte) error {
	return d.m.Send("spi_send", d.OID, data)
}
