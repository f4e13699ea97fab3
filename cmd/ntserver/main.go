package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ntserver",
	Short: "NT kernel-personality server",
	Long: `ntserver emulates NT kernel objects for client processes over a unix
socket: processes, threads, handles, events, mutexes, semaphores, waits and
thread register contexts.

Configuration comes from the file given with --config, then NTSERVER_*
environment variables, then command-line flags.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.AddCommand(serveCmd(), consoleCmd(), layoutsCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
