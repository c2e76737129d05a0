//go:build tinygo && stm32h7

package main

import (
	"runtime/volatile"
	"unsafe"

	"gopperh7/targets/h7spi"
)

const (
	rccBase = 0x58024400

	rccAHB4ENR  = 0xE0
	rccAPB1LENR = 0xE8
	rccAPB2ENR  = 0xF0
	rccAPB4ENR  = 0xF4
)

func rccReg(off uintptr) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(rccBase) + off))
}

type enableBit struct {
	reg uintptr
	bit uint32
}

var spiEnable = map[h7spi.Instance]enableBit{
	h7spi.SPI1: {rccAPB2ENR, 1 << 12},
	h7spi.SPI2: {rccAPB1LENR, 1 << 14},
	h7spi.SPI3: {rccAPB1LENR, 1 << 15},
	h7spi.SPI4: {rccAPB2ENR, 1 << 13},
	h7spi.SPI5: {rccAPB2ENR, 1 << 20},
	h7spi.SPI6: {rccAPB4ENR, 1 << 5},
}

// rccGate is the h7spi.ClockGate for the H7 reset and clock controller.
type rccGate struct{}

func (rccGate) IsEnabled(inst h7spi.Instance) bool {
	e, ok := spiEnable[inst]
	return ok && rccReg(e.reg).HasBits(e.bit)
}

func (rccGate) Enable(inst h7spi.Instance) {
	e, ok := spiEnable[inst]
	if !ok {
		return
	}
	r := rccReg(e.reg)
	r.SetBits(e.bit)
	// read back so the clock is running before the first register access
	_ = r.Get()
}

func (rccGate) Frequency(h7spi.Instance) uint32 { return pclkFreq }

// enableGPIOPort turns on the AHB4 clock of GPIO port n (0 = GPIOA).
func enableGPIOPort(n uint8) {
	r := rccReg(rccAHB4ENR)
	if !r.HasBits(1 << n) {
		r.SetBits(1 << n)
		_ = r.Get()
	}
}
