package bundler

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

// GasEstimation is the eth_estimateUserOperationGas result. The paymaster
// limits are only returned for entry point v0.7.
type GasEstimation struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit,omitempty"`
}

// Big returns v as *big.Int, nil when the bundler omitted it.
func Big(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return v.ToInt()
}

// TransactionReceipt is the part of the bundle transaction receipt embedded
// in a user operation receipt.
type TransactionReceipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	From              common.Address  `json:"from"`
	To                *common.Address `json:"to,omitempty"`
	GasUsed           *hexutil.Big    `json:"gasUsed,omitempty"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice,omitempty"`
	Status            hexutil.Uint64  `json:"status"`
}

type UserOperationReceipt struct {
	UserOpHash    common.Hash        `json:"userOpHash"`
	EntryPoint    common.Address     `json:"entryPoint"`
	Sender        common.Address     `json:"sender"`
	Nonce         *hexutil.Big       `json:"nonce"`
	Paymaster     *common.Address    `json:"paymaster,omitempty"`
	ActualGasCost *hexutil.Big       `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big       `json:"actualGasUsed"`
	Success       bool               `json:"success"`
	Reason        string             `json:"reason,omitempty"`
	Logs          []json.RawMessage  `json:"logs"`
	Receipt       TransactionReceipt `json:"receipt"`
}

type UserOperationByHash struct {
	UserOperation   json.RawMessage `json:"userOperation"`
	EntryPoint      common.Address  `json:"entryPoint"`
	BlockNumber     *hexutil.Big    `json:"blockNumber"`
	BlockHash       common.Hash     `json:"blockHash"`
	TransactionHash common.Hash     `json:"transactionHash"`
}

// Request decodes the embedded user operation into its versioned shape.
func (r *UserOperationByHash) Request() (userop.Request, error) {
	return userop.DecodeRequest(r.UserOperation)
}
