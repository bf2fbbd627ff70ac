package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("draftsync %s (built %s)\n", Version, BuildTime)
	},
}

func init() {
	RootCmd.AddCommand(VersionCmd)
}
