// Package wiring loads a board's SPI device list from YAML and checks it
// against the buses a firmware build offers.
package wiring

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"gopperh7/host/mcu"
	"gopperh7/targets/h7spi"
)

var ErrBadPin = errors.New("wiring: bad pin name")

// File is the top level of a wiring description:
//
//	mcu: stm32h743
//	devices:
//	  - name: thermocouple
//	    oid: 3
//	    bus: spi1
//	    mode: 1
//	    rate: 4000000
//	    cs: PA4
type File struct {
	MCU     string   `yaml:"mcu"`
	Devices []Device `yaml:"devices"`
}

// Device is one spidev the host will configure.
type Device struct {
	Name string `yaml:"name"`
	OID  int    `yaml:"oid"`
	Bus  string `yaml:"bus"`
	Mode int    `yaml:"mode"`
	Rate uint32 `yaml:"rate"`
	CS   string `yaml:"cs"`
}

// CSPin returns the Klipper pin number of the chip select, or mcu.NoCS.
func (d Device) CSPin() (int, error) {
	if d.CS == "" {
		return mcu.NoCS, nil
	}
	return ParsePin(d.CS)
}

// Parse decodes a wiring description.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("wiring: %w", err)
	}
	return &f, nil
}

// Load reads and decodes a wiring file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ParsePin converts "PA4" style names to port*16+pin.
func ParsePin(name string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if len(s) < 3 || s[0] != 'P' || s[1] < 'A' || s[1] > 'K' {
		return 0, fmt.Errorf("%w: %q", ErrBadPin, name)
	}
	n, err := strconv.Atoi(s[2:])
	if err != nil || n < 0 || n > 15 {
		return 0, fmt.Errorf("%w: %q", ErrBadPin, name)
	}
	return int(s[1]-'A')*16 + n, nil
}

// BusInfo is a bus as the validator sees it.
type BusInfo struct {
	Name string
	Pins []string // miso, mosi, sck
}

// Peripheral returns the instance name a bus uses: "spi2b" -> "spi2".
func (b BusInfo) Peripheral() string {
	return strings.TrimRight(b.Name, "abcdefghijklmnopqrstuvwxyz")
}

// FromDictionary adapts the buses a running firmware reports.
func FromDictionary(buses []mcu.SPIBus) []BusInfo {
	out := make([]BusInfo, len(buses))
	for i, b := range buses {
		out[i] = BusInfo{Name: b.Name, Pins: b.PinList()}
	}
	return out
}

// FromTable adapts an offline bus table.
func FromTable(t *h7spi.BusTable) []BusInfo {
	var out []BusInfo
	for _, b := range t.Buses() {
		out = append(out, BusInfo{
			Name: b.Name,
			Pins: []string{b.MISO.String(), b.MOSI.String(), b.SCK.String()},
		})
	}
	return out
}

// Problem is one thing wrong with a wiring file.
type Problem struct {
	Device string
	Msg    string
}

func (p Problem) String() string {
	if p.Device == "" {
		return p.Msg
	}
	return p.Device + ": " + p.Msg
}

// Validate reports every problem found in f. An empty result means the
// wiring can be applied as is.
func Validate(f *File, buses []BusInfo) []Problem {
	var probs []Problem
	add := func(dev, format string, args ...interface{}) {
		probs = append(probs, Problem{Device: dev, Msg: fmt.Sprintf(format, args...)})
	}

	byName := make(map[string]BusInfo, len(buses))
	for _, b := range buses {
		byName[b.Name] = b
	}

	oids := make(map[int]string)
	used := make(map[string]BusInfo)
	var usedOrder []string
	for i, d := range f.Devices {
		name := d.Name
		if name == "" {
			name = "device " + strconv.Itoa(i)
		}

		if d.OID < 0 || d.OID > 255 {
			add(name, "oid %d out of range", d.OID)
		} else if prev, dup := oids[d.OID]; dup {
			add(name, "oid %d already used by %s", d.OID, prev)
		} else {
			oids[d.OID] = name
		}
		if d.Mode < 0 || d.Mode > 3 {
			add(name, "mode %d is not 0-3", d.Mode)
		}
		if d.Rate == 0 {
			add(name, "rate must be non-zero")
		}

		bus, ok := byName[d.Bus]
		if !ok {
			add(name, "unknown bus %q", d.Bus)
			continue
		}
		if _, seen := used[bus.Name]; !seen {
			used[bus.Name] = bus
			usedOrder = append(usedOrder, bus.Name)
		}

		if d.CS == "" {
			continue
		}
		cs, err := ParsePin(d.CS)
		if err != nil {
			add(name, "%v", err)
			continue
		}
		for _, p := range bus.Pins {
			if pn, err := ParsePin(p); err == nil && pn == cs {
				add(name, "cs pin %s is a %s bus pin", p, bus.Name)
			}
		}
	}

	// The firmware routes pins only on the first use of a peripheral, so a
	// second pin set for the same instance never gets connected.
	owner := make(map[string]string)
	pinOwner := make(map[string]string)
	for _, n := range usedOrder {
		bus := used[n]
		if first, ok := owner[bus.Peripheral()]; ok {
			add("", "buses %s and %s share peripheral %s", first, n, bus.Peripheral())
		} else {
			owner[bus.Peripheral()] = n
		}
		for _, p := range bus.Pins {
			if other, ok := pinOwner[p]; ok {
				add("", "pin %s used by buses %s and %s", p, other, n)
			} else {
				pinOwner[p] = n
			}
		}
	}
	return probs
}
