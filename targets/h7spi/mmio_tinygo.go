//go:build tinygo && stm32h7

package h7spi

import (
	"runtime/volatile"
	"unsafe"
)

// SPI block base addresses (RM0433 table 8).
var spiBase = [numInstances]uintptr{
	SPI1: 0x40013000,
	SPI2: 0x40003800,
	SPI3: 0x40003C00,
	SPI4: 0x40013400,
	SPI5: 0x40015000,
	SPI6: 0x58001400,
}

var regOffset = [numRegs]uintptr{
	CR1:  0x00,
	CR2:  0x04,
	CFG1: 0x08,
	CFG2: 0x0C,
	IER:  0x10,
	SR:   0x14,
	IFCR: 0x18,
	TXDR: 0x20,
	RXDR: 0x30,
}

type mmioPeripheral struct {
	base uintptr
}

var mmioBlocks [numInstances]mmioPeripheral

func init() {
	for i := range mmioBlocks {
		mmioBlocks[i].base = spiBase[i]
	}
}

// MMIO returns the memory-mapped register block of inst.
func MMIO(inst Instance) Peripheral {
	return &mmioBlocks[inst]
}

func (p *mmioPeripheral) reg32(r Reg) *volatile.Register32 {
	return (*volatile.Register32)(unsafe.Pointer(p.base + regOffset[r]))
}

func (p *mmioPeripheral) Load(r Reg) uint32 {
	return p.reg32(r).Get()
}

func (p *mmioPeripheral) Store(r Reg, v uint32) {
	p.reg32(r).Set(v)
}

func (p *mmioPeripheral) WriteData(b byte) {
	(*volatile.Register8)(unsafe.Pointer(p.base + regOffset[TXDR])).Set(b)
}

func (p *mmioPeripheral) ReadData() byte {
	return (*volatile.Register8)(unsafe.Pointer(p.base + regOffset[RXDR])).Get()
}
