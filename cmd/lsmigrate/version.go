package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden by ldflags at build time.
var version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lsmigrate %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
