package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"gopperh7/host/mcu"
	"gopperh7/host/wiring"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session with a connected MCU",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := connect()
		if err != nil {
			return err
		}
		defer m.Close()
		return runShell(m, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

type shell struct {
	m       *mcu.MCU
	out     io.Writer
	devices map[uint8]*mcu.SPIDevice
}

func runShell(m *mcu.MCU, in io.Reader, out io.Writer) error {
	sh := &shell{m: m, out: out, devices: make(map[uint8]*mcu.SPIDevice)}
	fmt.Fprintln(out, "Enter commands ('help' lists them, 'quit' exits):")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" || fields[0] == "q" {
			return nil
		}
		if err := sh.exec(fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (sh *shell) exec(name string, args []string) error {
	switch name {
	case "help", "?":
		fmt.Fprint(sh.out, `
  dict                               dictionary summary
  raw                                raw identify data
  buses                              spi_bus enumeration
  config                             get_config state
  spi <oid> <bus> <mode> <rate> [cs] configure an spidev
  xfer <oid> <hex...>                spi_transfer, print the reply
  send <oid> <hex...>                spi_send
  quit                               exit
`)
	case "dict":
		sh.m.GetDictionary().WriteSummary(sh.out)
	case "raw":
		raw := sh.m.GetDictionaryRaw()
		fmt.Fprintf(sh.out, "%d bytes\n%x\n", len(raw), raw)
	case "buses":
		buses, err := sh.m.GetDictionary().SPIBuses()
		if err != nil {
			return err
		}
		writeBuses(sh.out, buses)
	case "config":
		st, err := sh.m.GetConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(sh.out, "configured: %v  shutdown: %v\n", st.IsConfig, st.IsShutdown)
	case "spi":
		return sh.configure(args)
	case "xfer", "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: %s <oid> <hex...>", name)
		}
		dev, err := sh.device(args[0])
		if err != nil {
			return err
		}
		data, err := parseHex(args[1:])
		if err != nil {
			return err
		}
		if name == "send" {
			return dev.Send(data)
		}
		resp, err := dev.Transfer(data)
		if err != nil {
			return err
		}
		fmt.Fprintln(sh.out, formatHex(resp))
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

func (sh *shell) configure(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: spi <oid> <bus> <mode> <rate> [cs]")
	}
	oid, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return err
	}
	mode, err := strconv.ParseUint(args[2], 0, 8)
	if err != nil {
		return err
	}
	rate, err := strconv.ParseUint(args[3], 0, 32)
	if err != nil {
		return err
	}
	cs := mcu.NoCS
	if len(args) > 4 {
		if cs, err = wiring.ParsePin(args[4]); err != nil {
			return err
		}
	}
	dev, err := sh.m.ConfigureSPI(uint8(oid), args[1], uint8(mode), uint32(rate), cs)
	if err != nil {
		return err
	}
	sh.devices[dev.OID] = dev
	return nil
}

func (sh *shell) device(arg string) (*mcu.SPIDevice, error) {
	oid, err := strconv.ParseUint(arg, 0, 8)
	if err != nil {
		return nil, err
	}
	dev, ok := sh.devices[uint8(oid)]
	if !ok {
		return nil, fmt.Errorf("oid %d not configured; use spi first", oid)
	}
	return dev, nil
}
