//go:build tinygo && stm32h7

package main

import (
	"runtime/volatile"
	"unsafe"

	"gopperh7/core"
)

// Clock tree as left by the boot code: SYSCLK from PLL1 at 400MHz, the
// APB buses at 100MHz.
const (
	cpuFreq  = 400000000
	pclkFreq = 100000000
)

const (
	demcrAddr    = 0xE000EDFC
	dwtCtrlAddr  = 0xE0001000
	dwtCyccnt    = 0xE0001004
	dwtLockAddr  = 0xE0001FB0
	dwtUnlockKey = 0xC5ACCE55

	demcrTRCENA  = 1 << 24
	dwtCYCCNTENA = 1 << 0
)

var (
	demcr   = (*volatile.Register32)(unsafe.Pointer(uintptr(demcrAddr)))
	dwtCtrl = (*volatile.Register32)(unsafe.Pointer(uintptr(dwtCtrlAddr)))
	dwtLock = (*volatile.Register32)(unsafe.Pointer(uintptr(dwtLockAddr)))
	cyccnt  = (*volatile.Register32)(unsafe.Pointer(uintptr(dwtCyccnt)))
)

// InitClock starts the DWT cycle counter and makes it the system timer.
func InitClock() {
	demcr.SetBits(demcrTRCENA)
	dwtLock.Set(dwtUnlockKey)
	cyccnt.Set(0)
	dwtCtrl.SetBits(dwtCYCCNTENA)

	core.SetTimeSource(cyccnt.Get)
	core.SetTimerFrequency(cpuFreq)

	core.RegisterConstant("MCU", variant.Name)
	core.RegisterConstant("CLOCK_FREQ", uint32(cpuFreq))
	core.RegisterConstant("PCLK_FREQ", uint32(pclkFreq))
}
