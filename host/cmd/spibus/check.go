package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"gopperh7/host/wiring"
	"gopperh7/targets/h7spi"
)

var errWiring = errors.New("wiring has problems")

var checkOffline bool

var checkCmd = &cobra.Command{
	Use:   "check <wiring.yaml>",
	Short: "Validate a wiring file against the MCU's bus list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := wiring.Load(args[0])
		if err != nil {
			return err
		}

		var buses []wiring.BusInfo
		if checkOffline {
			v, ok := h7spi.Variants[f.MCU]
			if !ok {
				return fmt.Errorf("unknown mcu %q in %s", f.MCU, args[0])
			}
			buses = wiring.FromTable(h7spi.NewBusTable(v))
		} else {
			m, err := connect()
			if err != nil {
				return err
			}
			defer m.Close()

			dict := m.GetDictionary()
			if name, _ := dict.ConstantString("MCU"); f.MCU != "" && name != f.MCU {
				slog.Warn("wiring targets a different mcu", "file", f.MCU, "device", name)
			}
			list, err := dict.SPIBuses()
			if err != nil {
				return err
			}
			buses = wiring.FromDictionary(list)
		}

		out := cmd.OutOrStdout()
		probs := wiring.Validate(f, buses)
		for _, p := range probs {
			fmt.Fprintln(out, p)
		}
		if len(probs) > 0 {
			return fmt.Errorf("%w: %d found", errWiring, len(probs))
		}
		fmt.Fprintf(out, "%s: %d devices ok\n", args[0], len(f.Devices))
		return nil
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkOffline, "offline", false, "use the built-in bus table for the file's mcu instead of a device")
}
