package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"veilnet.io/stratum/internal/core/identity"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Identity utilities",
}

var identityNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a new node identity",
	Long:  `Generate a new identity, printing the private form (address:0:publickeys:secretkeys) to stdout. Generation grinds a proof of work and takes a moment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.Generate()
		if err != nil {
			return err
		}
		s, err := id.PrivateString()
		if err != nil {
			return err
		}
		fmt.Println(s)
		return nil
	},
}

var identityVerifyCmd = &cobra.Command{
	Use:   "verify <identity>",
	Short: "Validate an identity's proof of work and address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identity.Parse(args[0])
		if err != nil {
			return err
		}
		if !id.LocallyValidate() {
			return fmt.Errorf("identity %s is NOT valid", id.Address())
		}
		fmt.Printf("identity %s is valid\n", id.Address())
		return nil
	},
}

func init() {
	identityCmd.AddCommand(identityNewCmd)
	identityCmd.AddCommand(identityVerifyCmd)
}
