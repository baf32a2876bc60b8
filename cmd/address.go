package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-aa/core/config"
)

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the smart account address",
	Long: `Resolve the counterfactual address of the configured owner and salt and
report whether the account is deployed yet.`,
	RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *config.Runtime) error {
		ctx := cmd.Context()
		account := rt.Client.Account()

		addr, err := account.GetAddress(ctx)
		if err != nil {
			return err
		}
		deployed, err := account.IsAccountDeployed(ctx)
		if err != nil {
			return err
		}
		factory, err := account.GetFactoryAddress(ctx)
		if err != nil {
			return err
		}
		ep := account.GetEntryPoint()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "account:    %s\n", addr.Hex())
		fmt.Fprintf(out, "type:       %s\n", account.Source())
		fmt.Fprintf(out, "deployed:   %t\n", deployed)
		fmt.Fprintf(out, "factory:    %s\n", factory.Hex())
		fmt.Fprintf(out, "entrypoint: %s (v%s, chain %s)\n", ep.Address.Hex(), ep.Version, ep.ChainID)
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
