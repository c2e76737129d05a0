package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gopperh7/host/mcu"
	"gopperh7/host/wiring"
)

var xferOpts = struct {
	oid  uint8
	bus  string
	mode uint8
	rate uint32
	cs   string
	send bool
}{}

var xferCmd = &cobra.Command{
	Use:   "xfer <hex bytes...>",
	Short: "Configure an spidev and clock bytes through it",
	Example: "  spibus xfer --bus spi1 --mode 3 --cs PA4 9f 00 00 00\n" +
		"  spibus xfer --bus spi4 --send 0xAE",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseHex(args)
		if err != nil {
			return err
		}
		cs := mcu.NoCS
		if xferOpts.cs != "" {
			if cs, err = wiring.ParsePin(xferOpts.cs); err != nil {
				return err
			}
		}

		m, err := connect()
		if err != nil {
			return err
		}
		defer m.Close()

		dev, err := m.ConfigureSPI(xferOpts.oid, xferOpts.bus, xferOpts.mode, xferOpts.rate, cs)
		if err != nil {
			return err
		}
		if xferOpts.send {
			return dev.Send(data)
		}
		resp, err := dev.Transfer(data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), formatHex(resp))
		return nil
	},
}

func init() {
	f := xferCmd.Flags()
	f.Uint8Var(&xferOpts.oid, "oid", 0, "object id to configure")
	f.StringVar(&xferOpts.bus, "bus", "spi1", "bus name from the spi_bus enumeration")
	f.Uint8Var(&xferOpts.mode, "mode", 0, "SPI mode 0-3")
	f.Uint32Var(&xferOpts.rate, "rate", 4000000, "maximum clock rate in Hz")
	f.StringVar(&xferOpts.cs, "cs", "", "chip select pin, e.g. PA4")
	f.BoolVar(&xferOpts.send, "send", false, "discard the reply (spi_send)")
}

// parseHex accepts "9f", "0x9F" and runs like "9f000000".
func parseHex(args []string) ([]byte, error) {
	var out []byte
	for _, a := range args {
		s := strings.TrimPrefix(strings.ToLower(a), "0x")
		if len(s)%2 == 1 {
			s = "0" + s
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("bad hex %q: %w", a, err)
		}
		out = append(out, b...)
	}
	return out, nil
}

func formatHex(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02x", c)
	}
	return strings.Join(parts, " ")
}
