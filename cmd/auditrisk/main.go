package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configArg string
	root := &cobra.Command{
		Use:           "auditrisk",
		Short:         "Database audit-event anomaly risk scoring",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configArg, "config", "c", "", "path to auditrisk.yml")

	root.AddCommand(
		newServeCmd(&configArg),
		newConsumeCmd(&configArg),
		newTrainCmd(&configArg),
		newExportONNXCmd(&configArg),
		newHotlistCmd(&configArg),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
