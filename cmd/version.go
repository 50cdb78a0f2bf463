package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s version %s\n", AppName, Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
