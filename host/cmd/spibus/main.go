// Command spibus inspects the SPI buses of a gopperh7 board and runs
// transfers on them from the host.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	"gopperh7/host/mcu"
	"gopperh7/host/serial"
)

var (
	device  string
	baud    int
	timeout time.Duration
	verbose bool

	rootCmd = &cobra.Command{
		Use:           "spibus",
		Short:         "Inspect and exercise SPI buses on gopperh7 firmware",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(cmd.ErrOrStderr(), verbose)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "/dev/ttyACM0", "serial device of the MCU")
	rootCmd.PersistentFlags().IntVarP(&baud, "baud", "b", serial.DefaultBaud, "baud rate; USB CDC links ignore it but it must be a standard rate")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Second, "per command ACK and response timeout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol activity")

	rootCmd.AddCommand(listCmd, queryCmd, checkCmd, xferCmd, shellCmd)
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// connect opens the configured device and loads its dictionary.
var connect = func() (*mcu.MCU, error) {
	m := mcu.NewMCU(slog.Default())
	m.Timeout = timeout

	cfg := serial.DefaultConfig(device)
	cfg.Baud = baud
	if err := m.ConnectWithConfig(cfg); err != nil {
		return nil, fmt.Errorf("connect %s: %w", device, err)
	}
	if err := m.RetrieveDictionary(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spibus:", err)
		os.Exit(1)
	}
}
