package cmd

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/core/config"
	"github.com/AvaProtocol/ap-aa/pkg/byte4"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/smartclient"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

type sendOption struct {
	to       []string
	value    []string
	data     []string
	nonceKey string
	wait     bool
	dryRun   bool
}

var (
	sendOpt = sendOption{}

	sendCmd = &cobra.Command{
		Use:   "send",
		Short: "Send a user operation",
		Long: `Send one call, or several batched into one operation when --to is repeated.
The n-th --value and --data belong to the n-th --to.

Use --dry-run to print the estimated operation without signing it, and
--wait to block until the bundler reports the including transaction.`,
		RunE: withRuntime(runSend),
	}
)

func runSend(cmd *cobra.Command, args []string, rt *config.Runtime) error {
	ctx := cmd.Context()
	calls, err := sendOpt.calls()
	if err != nil {
		return err
	}
	overrides := &userop.Overrides{}
	if sendOpt.nonceKey != "" {
		key, ok := new(big.Int).SetString(sendOpt.nonceKey, 0)
		if !ok {
			return fmt.Errorf("invalid --nonce-key %q", sendOpt.nonceKey)
		}
		overrides.NonceKey = key
	}
	params := smartclient.UserOperationParams{Calls: calls, Overrides: overrides}
	out := cmd.OutOrStdout()

	if sendOpt.dryRun {
		s, err := rt.Client.BuildUserOperation(ctx, params)
		if err != nil {
			return err
		}
		req, err := s.Resolve(ctx)
		if err != nil {
			return err
		}
		printer(cmd).Println(req)
		if call, err := byte4.Describe(req.GetCallData(), aa.AccountABIs()...); err == nil {
			fmt.Fprintf(out, "call: %s\n", call)
		}
		fmt.Fprintf(out, "sponsored: %t\n", req.HasPaymaster())
		return nil
	}

	res, err := rt.Client.SendUserOperation(ctx, params)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "user operation: %s\n", res.Hash.Hex())
	if !sendOpt.wait {
		return nil
	}
	return printMined(cmd, rt, res.Hash)
}

func printMined(cmd *cobra.Command, rt *config.Runtime, hash common.Hash) error {
	txHash, err := rt.Client.WaitForUserOperationTransaction(cmd.Context(), hash)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "transaction:    %s\n", txHash.Hex())
	if url := config.ExplorerTxURL(rt.Client.Account().GetEntryPoint().ChainID, txHash); url != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "explorer:       %s\n", url)
	}
	return nil
}

func (o sendOption) calls() ([]aa.Call, error) {
	if len(o.to) == 0 {
		return nil, fmt.Errorf("at least one --to is required")
	}
	if len(o.value) > len(o.to) || len(o.data) > len(o.to) {
		return nil, fmt.Errorf("more --value or --data flags than --to flags")
	}
	calls := make([]aa.Call, len(o.to))
	for i, to := range o.to {
		if !common.IsHexAddress(to) {
			return nil, fmt.Errorf("invalid --to address %q", to)
		}
		call := aa.Call{Target: common.HexToAddress(to), Value: new(big.Int), Data: []byte{}}
		if i < len(o.value) {
			v, ok := new(big.Int).SetString(o.value[i], 0)
			if !ok || v.Sign() < 0 {
				return nil, fmt.Errorf("invalid --value %q", o.value[i])
			}
			call.Value = v
		}
		if i < len(o.data) {
			call.Data = common.FromHex(o.data[i])
		}
		calls[i] = call
	}
	return calls, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringArrayVar(&sendOpt.to, "to", nil, "call target, repeat to batch calls")
	sendCmd.Flags().StringArrayVar(&sendOpt.value, "value", nil, "wei sent with the matching --to")
	sendCmd.Flags().StringArrayVar(&sendOpt.data, "data", nil, "hex call data for the matching --to")
	sendCmd.Flags().StringVar(&sendOpt.nonceKey, "nonce-key", "", "2D nonce key")
	sendCmd.Flags().BoolVar(&sendOpt.wait, "wait", false, "wait for the including transaction")
	sendCmd.Flags().BoolVar(&sendOpt.dryRun, "dry-run", false, "print the estimated operation without sending it")
	sendCmd.MarkFlagRequired("to")
}
