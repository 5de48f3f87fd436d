// Package cmd implements CLI commands using the cobra framework.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - peer-to-peer virtual network overlay node",
	Long: `Stratum is the layer-1 packet core of a peer-to-peer virtual network
overlay. Nodes identified by 40-bit addresses exchange authenticated,
optionally encrypted and compressed packets over UDP, learning each other's
identities through HELLO handshakes and root-assisted WHOIS lookups.`,
	Version: "0.3.1",
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/stratum/config.yml",
		"config file path")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(identityCmd)
}
