// Package mcu is a host-side client for gopperh7 firmware: it fetches the
// data dictionary and issues commands by name.
package mcu

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/exp/slog"

	"gopperh7/host/serial"
	"gopperh7/protocol"
)

// Fixed IDs every firmware assigns before its dictionary is known.
const (
	identifyResponseID = 0
	identifyID         = 1

	identifyChunk = 40
)

var (
	ErrNotConnected  = errors.New("mcu: not connected")
	ErrNoDictionary  = errors.New("mcu: dictionary not loaded")
	ErrShutdown      = errors.New("mcu: firmware is shut down")
	ErrDictTruncated = errors.New("mcu: identify data never ended")
)

// MCU is a connection to one microcontroller.
type MCU struct {
	transport  *protocol.HostTransport
	dictionary *Dictionary
	raw        []byte

	// Timeout bounds each command ACK and response wait.
	Timeout time.Duration
	log     *slog.Logger
}

// NewMCU creates an unconnected client. A nil logger uses slog.Default.
func NewMCU(log *slog.Logger) *MCU {
	if log == nil {
		log = slog.Default()
	}
	return &MCU{Timeout: time.Second, log: log}
}

// Connect opens device with the default Klipper settings.
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig opens a serial port and attaches to it.
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	m.log.Debug("serial port open", "device", cfg.Device, "baud", cfg.Baud)
	m.Attach(port)
	return nil
}

// Attach runs the protocol over an already open port.
func (m *MCU) Attach(port io.ReadWriteCloser) {
	m.transport = protocol.NewHostTransport(port)
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if m.transport == nil {
		return nil
	}
	err := m.transport.Close()
	m.transport = nil
	return err
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.transport != nil
}

// RetrieveDictionary fetches the identify data in chunks and parses it.
func (m *MCU) RetrieveDictionary() error {
	if m.transport == nil {
		return ErrNotConnected
	}

	var buf bytes.Buffer
	for i := 0; i < 4096; i++ {
		chunk, err := m.identify(uint32(buf.Len()), identifyChunk)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", buf.Len(), err)
		}
		buf.Write(chunk)
		if len(chunk) < identifyChunk {
			m.raw = buf.Bytes()
			m.log.Debug("identify data received", "bytes", len(m.raw), "chunks", i+1)

			dict, err := ParseDictionary(m.raw)
			if err != nil {
				return err
			}
			m.dictionary = dict
			m.log.Info("dictionary loaded", "version", dict.Version,
				"commands", len(dict.Commands), "responses", len(dict.Responses))
			return nil
		}
	}
	return ErrDictTruncated
}

func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommandWithTimeout(identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, uint32(count))
	}, m.Timeout)
	if err != nil {
		return nil, err
	}

	for {
		msg, err := m.transport.WaitResponse(identifyResponseID, m.Timeout)
		if err != nil {
			return nil, err
		}
		args := msg.Args()
		got, err := protocol.DecodeVLQUint(&args)
		if err != nil {
			return nil, err
		}
		if got != offset {
			// a late reply to an earlier request
			m.log.Debug("stale identify_response", "offset", got, "want", offset)
			continue
		}
		data, err := protocol.DecodeVLQBytes(&args)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), data...), nil
	}
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the identify data as received.
func (m *MCU) GetDictionaryRaw() []byte {
	return m.raw
}

// Send issues a command by name, its arguments in format order, and waits
// for the ACK.
func (m *MCU) Send(name string, args ...interface{}) error {
	if m.transport == nil {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return ErrNoDictionary
	}
	id, mf, err := m.dictionary.Command(name)
	if err != nil {
		return err
	}
	enc, err := mf.Encode(args...)
	if err != nil {
		return err
	}
	m.log.Debug("send", "command", name, "id", id)
	return m.transport.SendCommandWithTimeout(id, enc, m.Timeout)
}

// Query sends a command and waits for the named response. A shutdown or
// is_shutdown report from the firmware ends the wait with ErrShutdown.
//
// The MCU sends a command's responses before its ACK, so anything still
// queued when Query starts belongs to an earlier command and is dropped.
func (m *MCU) Query(response, command string, args ...interface{}) (map[string]interface{}, error) {
	if m.transport == nil {
		return nil, ErrNotConnected
	}
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}
	wantID, mf, err := m.dictionary.Response(response)
	if err != nil {
		return nil, err
	}
	for _, stale := range m.transport.DrainResponses() {
		id, _ := stale.ID()
		if err := m.checkShutdown(id, stale.Args()); err != nil {
			m.log.Debug("dropped earlier shutdown report", "err", err)
		}
	}
	if err := m.Send(command, args...); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(m.Timeout)
	for {
		msg, err := m.transport.ReceiveResponse(time.Until(deadline))
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", response, err)
		}
		id, err := msg.ID()
		if err != nil {
			continue
		}
		if id == wantID {
			return mf.Decode(msg.Args())
		}
		if err := m.checkShutdown(id, msg.Args()); err != nil {
			return nil, err
		}
	}
}

func (m *MCU) checkShutdown(id uint16, args []byte) error {
	mf, ok := m.dictionary.ResponseByID(id)
	if !ok || (mf.Name != "shutdown" && mf.Name != "is_shutdown") {
		return nil
	}
	fields, err := mf.Decode(args)
	if err != nil {
		return fmt.Errorf("%w: undecodable %s", ErrShutdown, mf.Name)
	}
	reason, _ := fields["reason"].([]byte)
	m.log.Warn("mcu shutdown", "reason", string(reason))
	return fmt.Errorf("%w: %s", ErrShutdown, reason)
}

// ConfigState is the get_config reply.
type ConfigState struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
	MoveCount  uint32
}

// GetConfig reports whether the MCU is configured or shut down.
func (m *MCU) GetConfig() (ConfigState, error) {
	f, err := m.Query("config", "get_config")
	if err != nil {
		return ConfigState{}, err
	}
	return ConfigState{
		IsConfig:   f["is_config"] != int64(0),
		CRC:        uint32(f["crc"].(int64)),
		IsShutdown: f["is_shutdown"] != int64(0),
		MoveCount:  uint32(f["move_count"].(int64)),
	}, nil
}
