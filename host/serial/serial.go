// Package serial opens the link to an MCU running the gopperh7 firmware.
package serial

import "io"

// Port is an open serial link. Tests substitute in-memory pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input.
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path, e.g. /dev/ttyACM0 or COM3.
	Device string

	// Baud must be a rate the host driver accepts even on a USB CDC link,
	// which otherwise ignores it.
	Baud int

	// ReadTimeout in milliseconds. Zero blocks; the host transport needs a
	// timeout so Close can stop its reader.
	ReadTimeout int
}

// DefaultBaud is accepted by every host driver. Klipper's usual 250000 is
// not a standard termios rate.
const DefaultBaud = 115200

// DefaultConfig returns the settings Klipper uses for device.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}
