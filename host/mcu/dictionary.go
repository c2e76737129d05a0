package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

var (
	ErrUnknownMessage = errors.New("mcu: message not in dictionary")
	ErrNoSPIBuses     = errors.New("mcu: dictionary has no spi_bus enumeration")
)

// Dictionary is the identify data an MCU reports about itself.
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]interface{}    `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`

	commandsByName  map[string]message
	responsesByName map[string]message
	responsesByID   map[uint16]MessageFormat
}

type message struct {
	id     uint16
	format MessageFormat
}

// ParseDictionary decodes identify data. zlib-compressed input (the
// normal case) is inflated first.
func ParseDictionary(raw []byte) (*Dictionary, error) {
	data := raw
	if isZlib(raw) {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("inflate dictionary: %w", err)
		}
	}

	d := &Dictionary{}
	if err := json.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("decode dictionary: %w", err)
	}
	if err := d.index(); err != nil {
		return nil, err
	}
	return d, nil
}

// isZlib checks the two byte zlib header: deflate method and a valid
// check value.
func isZlib(b []byte) bool {
	return len(b) >= 2 && b[0]&0x0F == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

func (d *Dictionary) index() error {
	d.commandsByName = make(map[string]message, len(d.Commands))
	for key, id := range d.Commands {
		mf, err := ParseMessageFormat(key)
		if err != nil {
			return err
		}
		d.commandsByName[mf.Name] = message{uint16(id), mf}
	}
	d.responsesByName = make(map[string]message, len(d.Responses))
	d.responsesByID = make(map[uint16]MessageFormat, len(d.Responses))
	for key, id := range d.Responses {
		mf, err := ParseMessageFormat(key)
		if err != nil {
			return err
		}
		d.responsesByName[mf.Name] = message{uint16(id), mf}
		d.responsesByID[uint16(id)] = mf
	}
	return nil
}

// Command looks up a command by name and returns its ID and format.
func (d *Dictionary) Command(name string) (uint16, MessageFormat, error) {
	m, ok := d.commandsByName[name]
	if !ok {
		return 0, MessageFormat{}, fmt.Errorf("command %s: %w", name, ErrUnknownMessage)
	}
	return m.id, m.format, nil
}

// Response looks up a response by name.
func (d *Dictionary) Response(name string) (uint16, MessageFormat, error) {
	m, ok := d.responsesByName[name]
	if !ok {
		return 0, MessageFormat{}, fmt.Errorf("response %s: %w", name, ErrUnknownMessage)
	}
	return m.id, m.format, nil
}

// ResponseByID returns the format of a response ID.
func (d *Dictionary) ResponseByID(id uint16) (MessageFormat, bool) {
	mf, ok := d.responsesByID[id]
	return mf, ok
}

// ConstantString returns a config constant rendered as text.
func (d *Dictionary) ConstantString(name string) (string, bool) {
	v, ok := d.Config[name]
	if !ok {
		return "", false
	}
	switch c := v.(type) {
	case string:
		return c, true
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64), true
	}
	return fmt.Sprint(v), true
}

// ConstantUint returns a numeric config constant.
func (d *Dictionary) ConstantUint(name string) (uint32, bool) {
	switch c := d.Config[name].(type) {
	case float64:
		return uint32(c), true
	case string:
		n, err := strconv.ParseUint(c, 10, 32)
		return uint32(n), err == nil
	}
	return 0, false
}

// SPIBus is one entry of an MCU's spi_bus enumeration.
type SPIBus struct {
	Index int
	Name  string
	// Pins is "miso,mosi,sck" from BUS_PINS_<name>, empty when the MCU
	// does not report it.
	Pins string
}

// PinList splits Pins into miso, mosi and sck.
func (b SPIBus) PinList() []string {
	if b.Pins == "" {
		return nil
	}
	return strings.Split(b.Pins, ",")
}

// SPIBuses returns the spi_bus enumeration ordered by index.
func (d *Dictionary) SPIBuses() ([]SPIBus, error) {
	enum, ok := d.Enumerations["spi_bus"]
	if !ok {
		return nil, ErrNoSPIBuses
	}
	names := maps.Keys(enum)
	slices.SortFunc(names, func(a, b string) int { return enum[a] - enum[b] })

	buses := make([]SPIBus, 0, len(names))
	for _, name := range names {
		pins, _ := d.ConstantString("BUS_PINS_" + name)
		buses = append(buses, SPIBus{Index: enum[name], Name: name, Pins: pins})
	}
	return buses, nil
}

// WriteSummary prints the dictionary the way the spibus tool shows it.
func (d *Dictionary) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "version: %s\n", d.Version)
	if d.BuildVersions != "" {
		fmt.Fprintf(w, "build:   %s\n", d.BuildVersions)
	}

	keys := maps.Keys(d.Config)
	slices.Sort(keys)
	fmt.Fprintf(w, "config (%d):\n", len(keys))
	for _, k := range keys {
		v, _ := d.ConstantString(k)
		fmt.Fprintf(w, "  %s = %s\n", k, v)
	}

	fmt.Fprintf(w, "commands: %d  responses: %d\n", len(d.Commands), len(d.Responses))

	enums := maps.Keys(d.Enumerations)
	slices.Sort(enums)
	for _, name := range enums {
		fmt.Fprintf(w, "enumeration %s: %d values\n", name, len(d.Enumerations[name]))
	}
}
