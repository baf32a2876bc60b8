package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-aa/core/config"
)

var entrypointsCmd = &cobra.Command{
	Use:   "entrypoints",
	Short: "List the entry points the bundler supports",
	RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *config.Runtime) error {
		eps, err := rt.Client.Bundler().GetSupportedEntryPoints(cmd.Context())
		if err != nil {
			return err
		}
		configured := rt.Client.Account().GetEntryPoint().Address
		for _, ep := range eps {
			marker := ""
			if ep == configured {
				marker = " (configured)"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s%s\n", ep.Hex(), marker)
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(entrypointsCmd)
}
