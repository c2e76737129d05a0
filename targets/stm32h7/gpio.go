//go:build tinygo && stm32h7

package main

import (
	"errors"
	"runtime/volatile"
	"unsafe"

	"gopperh7/core"
	"gopperh7/targets/h7spi"
)

const (
	gpioBase   = 0x58020000
	gpioStride = 0x400
	gpioPorts  = 11 // GPIOA..GPIOK
)

type gpioRegs struct {
	MODER   volatile.Register32
	OTYPER  volatile.Register32
	OSPEEDR volatile.Register32
	PUPDR   volatile.Register32
	IDR     volatile.Register32
	ODR     volatile.Register32
	BSRR    volatile.Register32
	LCKR    volatile.Register32
	AFR     [2]volatile.Register32
}

var errBadPin = errors.New("invalid gpio pin")

func port(n uint8) *gpioRegs {
	return (*gpioRegs)(unsafe.Pointer(uintptr(gpioBase) + uintptr(n)*gpioStride))
}

const (
	modeOutput    = 1
	modeAlternate = 2
	speedVeryHigh = 3
	pullUp        = 1
)

func setMode(p *gpioRegs, num uint8, mode uint32) {
	shift := uint32(num) * 2
	p.MODER.ReplaceBits(mode, 0x3, uint8(shift))
}

// h7GPIO drives chip selects for core and routes SPI pins for h7spi.
type h7GPIO struct{}

func (h7GPIO) ConfigureAlternate(pin h7spi.Pin, function uint8, pull bool) {
	n := pin.Num()
	enableGPIOPort(pin.Port())
	p := port(pin.Port())

	p.AFR[n/8].ReplaceBits(uint32(function), 0xF, (n%8)*4)
	p.OSPEEDR.ReplaceBits(speedVeryHigh, 0x3, n*2)
	var pupd uint32
	if pull {
		pupd = pullUp
	}
	p.PUPDR.ReplaceBits(pupd, 0x3, n*2)
	setMode(p, n, modeAlternate)
}

func (h7GPIO) ConfigureOutput(pin core.GPIOPin, value bool) error {
	if pin >= gpioPorts*16 {
		return errBadPin
	}
	h := h7spi.Pin(pin)
	enableGPIOPort(h.Port())
	p := port(h.Port())
	write(p, h.Num(), value)
	p.OTYPER.ClearBits(1 << h.Num())
	setMode(p, h.Num(), modeOutput)
	return nil
}

func (h7GPIO) SetPin(pin core.GPIOPin, value bool) error {
	if pin >= gpioPorts*16 {
		return errBadPin
	}
	h := h7spi.Pin(pin)
	write(port(h.Port()), h.Num(), value)
	return nil
}

func write(p *gpioRegs, num uint8, high bool) {
	if high {
		p.BSRR.Set(1 << num)
	} else {
		p.BSRR.Set(1 << (num + 16))
	}
}
