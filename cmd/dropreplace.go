package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-aa/core/config"
	"github.com/AvaProtocol/ap-aa/core/history"
	"github.com/AvaProtocol/ap-aa/model"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/smartclient"
)

var (
	dropReplaceWait bool

	dropReplaceCmd = &cobra.Command{
		Use:   "drop-replace <user-operation-hash>",
		Short: "Resubmit a stuck user operation with higher fees",
		Long: `Replace a pending operation sent from this machine. The operation is
read from the local history, and the replacement keeps its nonce and call
data with both fees raised by at least 10%.`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *config.Runtime) error {
			hash, err := parseHash(args[0])
			if err != nil {
				return err
			}
			rec, err := rt.History.Get(hash)
			if err != nil {
				return fmt.Errorf("user operation %s: %w", hash.Hex(), err)
			}
			if rec.Status != model.StatusPending && rec.Status != model.StatusNotFound {
				return fmt.Errorf("user operation %s is %s, only pending operations can be replaced", hash.Hex(), rec.Status)
			}
			req, err := history.Request(rec)
			if err != nil {
				return err
			}

			res, err := rt.Client.DropAndReplace(cmd.Context(), smartclient.DropAndReplaceParams{UserOperationToDrop: req})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "replaced:       %s\n", hash.Hex())
			fmt.Fprintf(out, "user operation: %s\n", res.Hash.Hex())
			fmt.Fprintf(out, "maxFeePerGas:   %v\n", res.Request.GetMaxFeePerGas())
			fmt.Fprintf(out, "maxPriorityFee: %v\n", res.Request.GetMaxPriorityFeePerGas())
			if !dropReplaceWait {
				return nil
			}
			return printMined(cmd, rt, res.Hash)
		}),
	}
)

func init() {
	rootCmd.AddCommand(dropReplaceCmd)
	dropReplaceCmd.Flags().BoolVar(&dropReplaceWait, "wait", false, "wait for the replacement to be mined")
}
