package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-aa/core/config"
)

var (
	receiptWait bool

	receiptCmd = &cobra.Command{
		Use:   "receipt <user-operation-hash>",
		Short: "Show the receipt of a user operation",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *config.Runtime) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			if receiptWait {
				if err := printMined(cmd, rt, hash); err != nil {
					return err
				}
			}
			receipt, err := rt.Client.Bundler().GetUserOperationReceipt(cmd.Context(), hash)
			if err != nil {
				return err
			}
			if receipt == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no receipt yet for %s\n", hash.Hex())
				return nil
			}
			printer(cmd).Println(receipt)
			return nil
		}),
	}
)

func parseHash(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(b), nil
}

func init() {
	rootCmd.AddCommand(receiptCmd)
	receiptCmd.Flags().BoolVar(&receiptWait, "wait", false, "poll until the operation is mined")
}
