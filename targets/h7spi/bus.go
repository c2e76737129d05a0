// Package h7spi drives the STM32H7 SPI block in polled master mode.
//
// It maps Klipper "spi_bus" indexes onto a peripheral instance and pin
// triplet, derives the baud-rate divisor, programs the mode registers and
// runs the FIFO-bounded byte exchange. Nothing here uses interrupts or DMA:
// every operation busy-waits on status flags until the hardware is done.
package h7spi

import "strconv"

// Instance identifies one SPI peripheral (SPI1..SPI6).
type Instance uint8

const (
	SPI1 Instance = iota + 1
	SPI2
	SPI3
	SPI4
	SPI5
	SPI6

	numInstances = 7
)

func (i Instance) String() string {
	if i == 0 || i >= numInstances {
		return "SPI?"
	}
	return "SPI" + strconv.Itoa(int(i))
}

// Pin is a GPIO encoded the Klipper way: port index * 16 + pin number.
type Pin uint8

// GPIO builds a Pin from a port letter and pin number, e.g. GPIO('A', 6).
func GPIO(port byte, num uint8) Pin {
	return Pin((port-'A')*16 + num)
}

// Port returns the zero-based port index (0 = GPIOA).
func (p Pin) Port() uint8 { return uint8(p) / 16 }

// Num returns the pin number within its port.
func (p Pin) Num() uint8 { return uint8(p) % 16 }

func (p Pin) String() string {
	return "P" + string(rune('A'+p.Port())) + strconv.Itoa(int(p.Num()))
}

// Bus describes one wiring option: a peripheral plus the pins routed to it.
type Bus struct {
	Name     string
	Instance Instance
	MISO     Pin
	MOSI     Pin
	SCK      Pin
	Function uint8 // GPIO alternate function
}

// PinString returns the pins as "miso,mosi,sck", the format Klipper hosts
// expect in BUS_PINS_<bus> constants.
func (b Bus) PinString() string {
	return b.MISO.String() + "," + b.MOSI.String() + "," + b.SCK.String()
}

// Variant lists the optional hardware of a particular part. Bus rows whose
// peripheral or port is missing are left out of the table entirely.
type Variant struct {
	Name  string
	SPI3  bool
	SPI4  bool
	SPI5  bool
	SPI6  bool
	GPIOI bool
}

// Variants holds presets for the parts we build firmware for.
var Variants = map[string]Variant{
	"stm32h743": {Name: "stm32h743", SPI3: true, SPI4: true, SPI5: true, SPI6: true, GPIOI: true},
	"stm32h750": {Name: "stm32h750", SPI3: true, SPI4: true, SPI5: true, SPI6: true, GPIOI: true},
	"stm32h723": {Name: "stm32h723", SPI3: true, SPI4: true, SPI5: true, SPI6: true},
	"stm32h7a3": {Name: "stm32h7a3", SPI3: true, SPI4: true, SPI5: true, SPI6: true, GPIOI: true},
}

type busCandidate struct {
	bus     Bus
	present func(Variant) bool
}

func always(Variant) bool     { return true }
func hasSPI3(v Variant) bool  { return v.SPI3 }
func hasSPI4(v Variant) bool  { return v.SPI4 }
func hasSPI5(v Variant) bool  { return v.SPI5 }
func hasSPI6(v Variant) bool  { return v.SPI6 }
func hasGPIOI(v Variant) bool { return v.GPIOI }

// Order matters: a bus index is its position after filtering, and hosts
// resolve bus names through the "spi_bus" enumeration built from this order.
var busCandidates = [...]busCandidate{
	{Bus{Name: "spi2", Instance: SPI2, MISO: GPIO('B', 14), MOSI: GPIO('B', 15), SCK: GPIO('B', 13), Function: 5}, always},
	{Bus{Name: "spi1", Instance: SPI1, MISO: GPIO('A', 6), MOSI: GPIO('A', 7), SCK: GPIO('A', 5), Function: 5}, always},
	{Bus{Name: "spi1a", Instance: SPI1, MISO: GPIO('B', 4), MOSI: GPIO('B', 5), SCK: GPIO('B', 3), Function: 5}, always},
	{Bus{Name: "spi2a", Instance: SPI2, MISO: GPIO('C', 2), MOSI: GPIO('C', 3), SCK: GPIO('B', 10), Function: 5}, always},
	{Bus{Name: "spi3a", Instance: SPI3, MISO: GPIO('C', 11), MOSI: GPIO('C', 12), SCK: GPIO('C', 10), Function: 6}, hasSPI3},
	{Bus{Name: "spi4", Instance: SPI4, MISO: GPIO('E', 13), MOSI: GPIO('E', 14), SCK: GPIO('E', 12), Function: 5}, hasSPI4},
	{Bus{Name: "spi2b", Instance: SPI2, MISO: GPIO('I', 2), MOSI: GPIO('I', 3), SCK: GPIO('I', 1), Function: 5}, hasGPIOI},
	{Bus{Name: "spi5", Instance: SPI5, MISO: GPIO('F', 8), MOSI: GPIO('F', 9), SCK: GPIO('F', 7), Function: 5}, hasSPI5},
	{Bus{Name: "spi5a", Instance: SPI5, MISO: GPIO('H', 7), MOSI: GPIO('F', 11), SCK: GPIO('H', 6), Function: 5}, hasSPI5},
	{Bus{Name: "spi6", Instance: SPI6, MISO: GPIO('G', 12), MOSI: GPIO('G', 14), SCK: GPIO('G', 13), Function: 5}, hasSPI6},
}

// BusTable is the immutable bus list for one Variant.
type BusTable struct {
	variant Variant
	buses   []Bus
}

// NewBusTable builds the table of buses that exist on v.
func NewBusTable(v Variant) *BusTable {
	t := &BusTable{variant: v}
	for _, c := range busCandidates {
		if c.present(v) {
			t.buses = append(t.buses, c.bus)
		}
	}
	return t
}

// Variant returns the variant the table was built for.
func (t *BusTable) Variant() Variant { return t.variant }

// Len returns the number of buses.
func (t *BusTable) Len() int { return len(t.buses) }

// Lookup returns the bus at index, or false when index is out of range.
func (t *BusTable) Lookup(index uint32) (Bus, bool) {
	if index >= uint32(len(t.buses)) {
		return Bus{}, false
	}
	return t.buses[index], true
}

// Index resolves a bus name to its index.
func (t *BusTable) Index(name string) (uint32, bool) {
	for i, b := range t.buses {
		if b.Name == name {
			return uint32(i), true
		}
	}
	return 0, false
}

// Names returns the bus names in index order.
func (t *BusTable) Names() []string {
	names := make([]string, len(t.buses))
	for i, b := range t.buses {
		names[i] = b.Name
	}
	return names
}

// Buses returns a copy of all rows in index order.
func (t *BusTable) Buses() []Bus {
	out := make([]Bus, len(t.buses))
	copy(out, t.buses)
	return out
}

// Registrar receives the bus names and pin strings advertised to the host.
// *core.Dictionary satisfies it.
type Registrar interface {
	AddEnumeration(name string, values []string)
	AddConstant(name string, value interface{})
}

// Register publishes the "spi_bus" enumeration and a BUS_PINS_<name>
// constant per bus.
func (t *BusTable) Register(r Registrar) {
	for _, b := range t.buses {
		r.AddConstant("BUS_PINS_"+b.Name, b.PinString())
	}
	r.AddEnumeration("spi_bus", t.Names())
}
