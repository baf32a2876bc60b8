package smartclient

import (
	"context"
	"math"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/pkg/timekeeper"
)

type SendUserOperationResult struct {
	Hash    common.Hash
	Request userop.Request
}

// SignUserOperation resolves s, validates it against the account's entry
// point and signs its hash with the account.
func (c *SmartAccountClient) SignUserOperation(ctx context.Context, s userop.Struct, account aa.SmartContractAccount) (userop.Request, error) {
	account, err := c.resolveAccount(account)
	if err != nil {
		return nil, err
	}
	ep := account.GetEntryPoint()
	if err := ep.CheckStruct(s); err != nil {
		return nil, err
	}
	req, err := s.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if err := ep.Validate(req); err != nil {
		return nil, err
	}
	hash, err := ep.GetUserOperationHash(req)
	if err != nil {
		return nil, err
	}
	sig, err := account.SignUserOperationHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	return req.WithSignature(sig), nil
}

// SendUserOperation builds, signs and submits an operation.
func (c *SmartAccountClient) SendUserOperation(ctx context.Context, p UserOperationParams) (*SendUserOperationResult, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return nil, err
	}
	p.Account = account
	s, err := c.BuildUserOperation(ctx, p)
	if err != nil {
		return nil, err
	}
	return c.sendStruct(ctx, s, account)
}

func (c *SmartAccountClient) sendStruct(ctx context.Context, s userop.Struct, account aa.SmartContractAccount) (*SendUserOperationResult, error) {
	req, err := c.SignUserOperation(ctx, s, account)
	if err != nil {
		return nil, err
	}
	return c.SendRawUserOperation(ctx, req, account)
}

// SendRawUserOperation submits an already signed request to the account's
// entry point.
func (c *SmartAccountClient) SendRawUserOperation(ctx context.Context, req userop.Request, account aa.SmartContractAccount) (*SendUserOperationResult, error) {
	account, err := c.resolveAccount(account)
	if err != nil {
		return nil, err
	}
	ep := account.GetEntryPoint()
	version := string(ep.Version)

	hash, err := c.bundler.SendRawUserOperation(ctx, req, ep.Address)
	if err != nil {
		c.metrics.IncUserOperationSent(version, "error")
		c.metrics.IncBundlerRequestFailure("eth_sendUserOperation")
		c.logger.Error("bundler rejected user operation", "sender", req.GetSender().Hex(), "nonce", req.GetNonce(), "error", err)
		return nil, err
	}
	c.metrics.IncUserOperationSent(version, "ok")
	c.logger.Info("user operation sent", "hash", hash.Hex(), "sender", req.GetSender().Hex(), "nonce", req.GetNonce(), "entrypoint", ep.Address.Hex())

	if c.history != nil {
		if err := c.history.RecordSent(ctx, hash, ep.Address, req); err != nil {
			c.logger.Warn("failed to record user operation", "hash", hash.Hex(), "error", err)
		}
	}
	return &SendUserOperationResult{Hash: hash, Request: req}, nil
}

// SendTransaction sends tx as an operation and waits for the transaction
// that included it.
func (c *SmartAccountClient) SendTransaction(ctx context.Context, tx ethereum.CallMsg, p UserOperationParams) (common.Hash, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return common.Hash{}, err
	}
	p.Account = account
	s, err := c.BuildUserOperationFromTx(ctx, tx, p)
	if err != nil {
		return common.Hash{}, err
	}
	res, err := c.sendStruct(ctx, s, account)
	if err != nil {
		return common.Hash{}, err
	}
	return c.WaitForUserOperationTransaction(ctx, res.Hash)
}

// SendTransactions sends txs as one batched operation and waits for the
// transaction that included it.
func (c *SmartAccountClient) SendTransactions(ctx context.Context, txs []ethereum.CallMsg, p UserOperationParams) (common.Hash, error) {
	account, err := c.resolveAccount(p.Account)
	if err != nil {
		return common.Hash{}, err
	}
	p.Account = account
	built, err := c.BuildUserOperationFromTxs(ctx, txs, p)
	if err != nil {
		return common.Hash{}, err
	}
	res, err := c.sendStruct(ctx, built.Struct, account)
	if err != nil {
		return common.Hash{}, err
	}
	return c.WaitForUserOperationTransaction(ctx, res.Hash)
}

// WaitForUserOperationTransaction polls the bundler for the receipt of hash
// and returns the hash of the transaction that included it. Poll errors are
// logged and retried; after TxMaxRetries polls it fails with
// FailedToFindTransactionError.
func (c *SmartAccountClient) WaitForUserOperationTransaction(ctx context.Context, hash common.Hash) (common.Hash, error) {
	w := c.wait
	elapsed := timekeeper.NewElapsing()
	for i := 0; i < w.TxMaxRetries; i++ {
		delay := time.Duration(float64(w.TxRetryInterval) * math.Pow(w.TxRetryMultiplier, float64(i)))
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-time.After(delay):
		}

		receipt, err := c.bundler.GetUserOperationReceipt(ctx, hash)
		if err != nil {
			c.metrics.IncBundlerRequestFailure("eth_getUserOperationReceipt")
			c.logger.Warn("failed to get user operation receipt", "hash", hash.Hex(), "attempt", i+1, "error", err)
			continue
		}
		if receipt == nil {
			c.logger.Debug("user operation not mined yet", "hash", hash.Hex(), "attempt", i+1, "waited", elapsed.Lap())
			continue
		}

		txHash := receipt.Receipt.TransactionHash
		took := elapsed.Total()
		c.metrics.ObserveWaitAttempts(i + 1)
		c.metrics.ObserveWaitDuration(took)
		c.logger.Info("user operation mined", "hash", hash.Hex(), "tx", txHash.Hex(), "success", receipt.Success, "took", took)
		if c.history != nil {
			if err := c.history.MarkMined(ctx, hash, txHash); err != nil {
				c.logger.Warn("failed to update user operation history", "hash", hash.Hex(), "error", err)
			}
		}
		return txHash, nil
	}

	if c.history != nil {
		if err := c.history.MarkNotFound(ctx, hash); err != nil {
			c.logger.Warn("failed to update user operation history", "hash", hash.Hex(), "error", err)
		}
	}
	return common.Hash{}, aaerr.NewFailedToFindTransactionError(hash.Hex(), w.TxMaxRetries)
}

// SignMessage signs msg with the account, wrapped per ERC-6492 while the
// account is not deployed.
func (c *SmartAccountClient) SignMessage(ctx context.Context, msg []byte, account aa.SmartContractAccount) ([]byte, error) {
	account, err := c.resolveAccount(account)
	if err != nil {
		return nil, err
	}
	return account.SignMessageWith6492(ctx, msg)
}

// SignTypedData signs EIP-712 data with the account, wrapped per ERC-6492
// while the account is not deployed.
func (c *SmartAccountClient) SignTypedData(ctx context.Context, typedData apitypes.TypedData, account aa.SmartContractAccount) ([]byte, error) {
	account, err := c.resolveAccount(account)
	if err != nil {
		return nil, err
	}
	return account.SignTypedDataWith6492(ctx, typedData)
}

// SignTransaction always fails: a smart account cannot produce a raw
// transaction signature.
func (c *SmartAccountClient) SignTransaction(_ context.Context, _ *types.Transaction) ([]byte, error) {
	return nil, aaerr.NewSignTransactionNotSupportedError()
}
