// Command walctl is an operator CLI over a colwal data directory: replay
// recovery, run a checkpoint pass, or serve Prometheus metrics while idling
// against an open WAL.
package main

import (
	"fmt"
	"os"

	"github.com/cuemby/colwal/pkg/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "walctl",
	Short: "Operate a colwal data directory",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
