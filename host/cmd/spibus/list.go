package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"gopperh7/host/mcu"
	"gopperh7/targets/h7spi"
)

var listCmd = &cobra.Command{
	Use:   "list [variant...]",
	Short: "Print the bus table each firmware variant is built with",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := args
		if len(names) == 0 {
			names = maps.Keys(h7spi.Variants)
			slices.Sort(names)
		}
		for i, name := range names {
			v, ok := h7spi.Variants[name]
			if !ok {
				return fmt.Errorf("unknown variant %q", name)
			}
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			writeTable(cmd.OutOrStdout(), h7spi.NewBusTable(v))
		}
		return nil
	},
}

func writeTable(w io.Writer, t *h7spi.BusTable) {
	fmt.Fprintf(w, "%s:\n", t.Variant().Name)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  INDEX\tBUS\tPERIPH\tMISO,MOSI,SCK\tAF")
	for i, b := range t.Buses() {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%d\n", i, b.Name, b.Instance, b.PinString(), b.Function)
	}
	tw.Flush()
}

func writeBuses(w io.Writer, buses []mcu.SPIBus) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tBUS\tMISO,MOSI,SCK")
	for _, b := range buses {
		pins := b.Pins
		if pins == "" {
			pins = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", b.Index, b.Name, pins)
	}
	tw.Flush()
}
