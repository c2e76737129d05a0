//go:build !tinygo

package serial

import (
	"errors"
	"fmt"
	"time"

	"github.com/tarm/serial"
)

var (
	ErrNoDevice        = errors.New("serial: no device given")
	ErrUnsupportedBaud = errors.New("serial: unsupported baud rate")
)

// NativePort wraps a github.com/tarm/serial port.
type NativePort struct {
	port *serial.Port
	cfg  Config
}

// Open opens cfg.Device.
func Open(cfg *Config) (Port, error) {
	if cfg == nil || cfg.Device == "" {
		return nil, ErrNoDevice
	}
	if !baudSupported(cfg.Baud) {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, cfg.Baud)
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	return &NativePort{port: port, cfg: *cfg}, nil
}

func (p *NativePort) Read(b []byte) (int, error)  { return p.port.Read(b) }
func (p *NativePort) Write(b []byte) (int, error) { return p.port.Write(b) }

// Close closes the serial port
func (p *NativePort) Close() error {
	return p.port.Close()
}

// Flush discards buffered input and output.
func (p *NativePort) Flush() error {
	return p.port.Flush()
}

// Device returns the path the port was opened with.
func (p *NativePort) Device() string { return p.cfg.Device }
