package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var RootCmd = &cobra.Command{
	Use:   "draftsync",
	Short: "Draft assembly task tracking and progress synchronization service",
	Long: `draftsync assembles media-editing drafts from remote assets and exposes
every job's state over a pull API and a push subscription stream.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configFile, "conf", "data/config.json", "config file")
}
