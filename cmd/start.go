package cmd

import (
	"github.com/spf13/cobra"

	"veilnet.io/stratum/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the overlay node",
	Long:  `Start the node daemon: open UDP sockets, install the root set, and run until terminated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile)
		if err != nil {
			return err
		}
		return d.Run()
	},
}
