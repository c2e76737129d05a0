//go:build tinygo && stm32h7

// Command stm32h7 is the gopperh7 firmware image: Klipper's command set
// with the polled SPI engine, spoken over the board's USB serial port.
package main

import (
	"machine"
	"time"

	"gopperh7/core"
	"gopperh7/protocol"
	"gopperh7/targets/h7spi"
)

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport

	msgerrors uint32
)

func main() {
	InitClock()

	core.InitCoreCommands()
	core.InitSPICommands()

	table := h7spi.NewBusTable(variant)
	table.Register(core.GetGlobalDictionary())

	ctrl := h7spi.NewController(h7spi.Options{
		Table:     table,
		Registers: h7spi.MMIO,
		Clocks:    rccGate{},
		Pins:      h7GPIO{},
		Timer:     core.SystemTimer{},
		Fault:     core.Shutdown,
	})
	core.SetSPIDriver(h7spi.NewDriver(ctrl))
	core.SetGPIODriver(h7GPIO{})

	if err := core.GetGlobalDictionary().BuildDictionary(); err != nil {
		core.DebugPrintln("dictionary: " + err.Error())
	}

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	transport.SetFlushCallback(writeSerial)
	transport.SetErrorCallback(func(err error) {
		msgerrors++
		core.DebugPrintln("transport: " + err.Error())
	})
	core.SetGlobalTransport(transport)

	for {
		readSerial()

		if inputBuffer.Available() > 0 {
			data := inputBuffer.Data()
			in := protocol.NewSliceInputBuffer(data)
			transport.Receive(in)
			if consumed := len(data) - in.Available(); consumed > 0 {
				inputBuffer.Pop(consumed)
			}
		}

		writeSerial()
		core.CheckPendingReset()

		time.Sleep(10 * time.Microsecond)
	}
}

func readSerial() {
	for machine.Serial.Buffered() > 0 && inputBuffer.Free() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			msgerrors++
			return
		}
		inputBuffer.Write([]byte{b})
	}
}

func writeSerial() {
	result := outputBuffer.Result()
	if len(result) == 0 {
		return
	}
	if _, err := machine.Serial.Write(result); err != nil {
		msgerrors++
	}
	outputBuffer.Reset()
}
