package h7spi

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBusTableFullVariant(t *testing.T) {
	table := NewBusTable(Variants["stm32h743"])

	want := []string{"spi2", "spi1", "spi1a", "spi2a", "spi3a", "spi4", "spi2b", "spi5", "spi5a", "spi6"}
	if diff := cmp.Diff(want, table.Names()); diff != "" {
		t.Errorf("bus order mismatch (-want +got):\n%s", diff)
	}
}

func TestBusTableOmitsMissingHardware(t *testing.T) {
	table := NewBusTable(Variant{Name: "minimal"})

	want := []string{"spi2", "spi1", "spi1a", "spi2a"}
	if diff := cmp.Diff(want, table.Names()); diff != "" {
		t.Errorf("bus list mismatch (-want +got):\n%s", diff)
	}

	// No GPIOI means spi2b is absent and spi5 shifts down accordingly.
	table = NewBusTable(Variants["stm32h723"])
	if _, ok := table.Index("spi2b"); ok {
		t.Error("spi2b present on a part without GPIOI")
	}
	idx, ok := table.Index("spi5")
	if !ok || idx != 6 {
		t.Errorf("spi5 index = %d (found %v), want 6", idx, ok)
	}
}

func TestBusTableLookup(t *testing.T) {
	table := NewBusTable(Variants["stm32h743"])

	bus, ok := table.Lookup(1)
	if !ok {
		t.Fatal("Lookup(1) failed")
	}
	want := Bus{Name: "spi1", Instance: SPI1, MISO: GPIO('A', 6), MOSI: GPIO('A', 7), SCK: GPIO('A', 5), Function: 5}
	if bus != want {
		t.Errorf("Lookup(1) = %+v, want %+v", bus, want)
	}

	if _, ok := table.Lookup(uint32(table.Len())); ok {
		t.Error("Lookup past the end succeeded")
	}
	if _, ok := table.Lookup(0xFFFFFFFF); ok {
		t.Error("Lookup(0xFFFFFFFF) succeeded")
	}
}

func TestPinString(t *testing.T) {
	tests := []struct {
		bus  string
		want string
	}{
		{"spi2", "PB14,PB15,PB13"},
		{"spi1", "PA6,PA7,PA5"},
		{"spi3a", "PC11,PC12,PC10"},
		{"spi5a", "PH7,PF11,PH6"},
		{"spi6", "PG12,PG14,PG13"},
	}

	table := NewBusTable(Variants["stm32h743"])
	for _, tt := range tests {
		idx, ok := table.Index(tt.bus)
		if !ok {
			t.Fatalf("bus %s missing", tt.bus)
		}
		bus, _ := table.Lookup(idx)
		if got := bus.PinString(); got != tt.want {
			t.Errorf("%s pins = %q, want %q", tt.bus, got, tt.want)
		}
	}
}

func TestPinEncoding(t *testing.T) {
	p := GPIO('E', 13)
	if p.Port() != 4 || p.Num() != 13 {
		t.Errorf("GPIO('E', 13) = port %d num %d", p.Port(), p.Num())
	}
	if uint8(p) != 4*16+13 {
		t.Errorf("GPIO('E', 13) = %d, want %d", p, 4*16+13)
	}
	if p.String() != "PE13" {
		t.Errorf("String() = %q", p.String())
	}
}

type recordingRegistrar struct {
	enums     map[string][]string
	constants map[string]interface{}
}

func (r *recordingRegistrar) AddEnumeration(name string, values []string) {
	r.enums[name] = values
}

func (r *recordingRegistrar) AddConstant(name string, value interface{}) {
	r.constants[name] = value
}

func TestBusTableRegister(t *testing.T) {
	reg := &recordingRegistrar{enums: map[string][]string{}, constants: map[string]interface{}{}}
	table := NewBusTable(Variants["stm32h723"])
	table.Register(reg)

	if diff := cmp.Diff(table.Names(), reg.enums["spi_bus"]); diff != "" {
		t.Errorf("spi_bus enumeration mismatch (-want +got):\n%s", diff)
	}
	if len(reg.constants) != table.Len() {
		t.Errorf("got %d BUS_PINS constants, want %d", len(reg.constants), table.Len())
	}
	if got := reg.constants["BUS_PINS_spi2a"]; got != "PC2,PC3,PB10" {
		t.Errorf("BUS_PINS_spi2a = %v", got)
	}
}
