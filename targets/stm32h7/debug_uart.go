//go:build tinygo && stm32h7 && debuguart

package main

import (
	"machine"

	"gopperh7/core"
)

// With the debuguart tag, debug text and timing dumps go out on the
// board's default UART at 115200 baud. The Klipper link stays on
// machine.Serial, so boards whose Serial is that same UART must not use it.
func init() {
	uart := machine.DefaultUART
	if err := uart.Configure(machine.UARTConfig{BaudRate: 115200}); err != nil {
		return
	}
	core.SetDebugWriter(func(s string) {
		uart.Write([]byte(s))
		uart.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
}
