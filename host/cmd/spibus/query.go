package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Read the dictionary and bus list from a running MCU",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := connect()
		if err != nil {
			return err
		}
		defer m.Close()

		out := cmd.OutOrStdout()
		dict := m.GetDictionary()
		dict.WriteSummary(out)

		st, err := m.GetConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "configured: %v  shutdown: %v  crc: %#08x\n", st.IsConfig, st.IsShutdown, st.CRC)

		buses, err := dict.SPIBuses()
		if err != nil {
			return err
		}
		fmt.Fprintln(out)
		writeBuses(out, buses)
		return nil
	},
}
