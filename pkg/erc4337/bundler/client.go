// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless
package bundler

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/pkg/logger"
)

// Client is the ERC-4337 bundler surface the smart account client needs.
type Client interface {
	SendRawUserOperation(ctx context.Context, request userop.Request, entryPoint common.Address) (common.Hash, error)
	EstimateUserOperationGas(ctx context.Context, request userop.Request, entryPoint common.Address, stateOverride map[common.Address]interface{}) (*GasEstimation, error)
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error)
	GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOperationByHash, error)
	GetSupportedEntryPoints(ctx context.Context) ([]common.Address, error)
}

// BundlerClient defines a client for interacting with an EIP-4337 bundler RPC endpoint.
// Every method maps to exactly one JSON-RPC call: errors are returned as the
// transport reported them and nothing is retried.
type BundlerClient struct {
	client *rpc.Client
	logger logger.Logger
}

var _ Client = (*BundlerClient)(nil)

// NewBundlerClient creates a new BundlerClient that connects to the given URL.
func NewBundlerClient(url string, log logger.Logger) (*BundlerClient, error) {
	// Use DialHTTP instead of Dial as it is more compatible with HTTP-based bundler
	// endpoints, but it also supports other protocols such as WebSocket.
	c, err := rpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("Error creating bundler client: %w", err)
	}
	return NewBundlerClientWithRPC(c, log), nil
}

// NewBundlerClientWithRPC wraps an already connected RPC client.
func NewBundlerClientWithRPC(c *rpc.Client, log logger.Logger) *BundlerClient {
	return &BundlerClient{client: c, logger: logger.For(log, "bundler")}
}

// Close closes the underlying RPC client connection.
func (bc *BundlerClient) Close() {
	bc.client.Close()
}

// SendRawUserOperation submits a signed user operation with eth_sendUserOperation
// and returns the user operation hash computed by the bundler.
func (bc *BundlerClient) SendRawUserOperation(ctx context.Context, request userop.Request, entryPoint common.Address) (common.Hash, error) {
	var hash common.Hash
	bc.logger.Debug("eth_sendUserOperation", "sender", request.GetSender().Hex(), "nonce", request.GetNonce(), "entryPoint", entryPoint.Hex())
	if err := bc.client.CallContext(ctx, &hash, "eth_sendUserOperation", request, entryPoint); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// EstimateUserOperationGas estimates the gas required for a UserOperation.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
// The signature field is ignored by the bundler but must have a realistic
// length. stateOverride is forwarded as the third parameter when non nil,
// with the same semantics as eth_call.
func (bc *BundlerClient) EstimateUserOperationGas(
	ctx context.Context,
	request userop.Request,
	entryPoint common.Address,
	stateOverride map[common.Address]interface{},
) (*GasEstimation, error) {
	args := []interface{}{request, entryPoint}
	if stateOverride != nil {
		args = append(args, stateOverride)
	}

	var estimation GasEstimation
	if err := bc.client.CallContext(ctx, &estimation, "eth_estimateUserOperationGas", args...); err != nil {
		return nil, err
	}
	bc.logger.Debug("eth_estimateUserOperationGas",
		"preVerificationGas", estimation.PreVerificationGas,
		"verificationGasLimit", estimation.VerificationGasLimit,
		"callGasLimit", estimation.CallGasLimit)
	return &estimation, nil
}

// GetUserOperationReceipt fetches the receipt of a UserOperation. It returns
// nil without error while the operation is not yet included.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := bc.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetUserOperationByHash fetches a UserOperation by its hash, or nil when the
// bundler does not know it.
func (bc *BundlerClient) GetUserOperationByHash(ctx context.Context, hash common.Hash) (*UserOperationByHash, error) {
	var res *UserOperationByHash
	if err := bc.client.CallContext(ctx, &res, "eth_getUserOperationByHash", hash); err != nil {
		return nil, err
	}
	return res, nil
}

// GetSupportedEntryPoints lists the entry points the bundler accepts.
func (bc *BundlerClient) GetSupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var addrs []common.Address
	if err := bc.client.CallContext(ctx, &addrs, "eth_supportedEntryPoints"); err != nil {
		return nil, err
	}
	return addrs, nil
}
