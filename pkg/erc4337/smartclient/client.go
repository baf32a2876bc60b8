// Package smartclient builds, signs and submits user operations for a smart
// contract account: the account supplies sender, nonce, init code and call
// data, the middleware fills gas, fees and paymaster data, and the bundler
// receives the signed request.
package smartclient

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/metrics"
	"github.com/AvaProtocol/ap-aa/pkg/eip1559"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/middleware"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/pkg/logger"
)

const (
	DefaultTxMaxRetries      = 5
	DefaultTxRetryInterval   = 2 * time.Second
	DefaultTxRetryMultiplier = 1.5
)

// WaitOptions bound the receipt polling of WaitForUserOperationTransaction.
// The n-th poll waits TxRetryInterval * TxRetryMultiplier^n before asking.
type WaitOptions struct {
	TxMaxRetries      int
	TxRetryInterval   time.Duration
	TxRetryMultiplier float64
}

func DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		TxMaxRetries:      DefaultTxMaxRetries,
		TxRetryInterval:   DefaultTxRetryInterval,
		TxRetryMultiplier: DefaultTxRetryMultiplier,
	}
}

func (w WaitOptions) withDefaults() WaitOptions {
	d := DefaultWaitOptions()
	if w.TxMaxRetries <= 0 {
		w.TxMaxRetries = d.TxMaxRetries
	}
	if w.TxRetryInterval <= 0 {
		w.TxRetryInterval = d.TxRetryInterval
	}
	if w.TxRetryMultiplier <= 0 {
		w.TxRetryMultiplier = d.TxRetryMultiplier
	}
	return w
}

// Recorder persists the lifecycle of submitted operations. history.Store
// implements it.
type Recorder interface {
	RecordSent(ctx context.Context, hash common.Hash, entryPoint common.Address, req userop.Request) error
	MarkMined(ctx context.Context, hash, txHash common.Hash) error
	MarkReplaced(ctx context.Context, hash, replacement common.Hash) error
	MarkNotFound(ctx context.Context, hash common.Hash) error
}

type Config struct {
	// Account is the default account of every call. Calls may pass their own.
	Account aa.SmartContractAccount
	Bundler bundler.Client
	// Chain prices operations when Middleware has no fee estimator.
	Chain eip1559.FeeReader

	Middleware middleware.Config
	FeeOptions *userop.FeeOptions
	Wait       WaitOptions

	History Recorder
	Metrics metrics.MetricsGenerator
	Logger  logger.Logger
}

// SmartAccountClient runs the build, sign and send flow. It holds no per
// operation state; the account it is given owns the deployment cache, so
// operations of one undeployed account must be sent one at a time.
type SmartAccountClient struct {
	account    aa.SmartContractAccount
	bundler    bundler.Client
	middleware middleware.Config
	feeOptions *userop.FeeOptions
	wait       WaitOptions

	history Recorder
	metrics metrics.MetricsGenerator
	logger  logger.Logger

	// baseLogger is the caller's logger before tagging, for the middleware
	// pipeline to tag with its own component.
	baseLogger logger.Logger
}

// NewSmartAccountClient fills the fee and gas estimator stages that Config
// leaves empty with the defaults backed by Chain and Bundler.
func NewSmartAccountClient(c Config) (*SmartAccountClient, error) {
	if c.Bundler == nil {
		return nil, aaerr.NewIncompatibleClientError("bundler.Client", "NewSmartAccountClient")
	}
	mw := c.Middleware
	if mw.FeeEstimator == nil {
		if c.Chain == nil {
			return nil, aaerr.NewChainNotFoundError()
		}
		mw.FeeEstimator = middleware.NewFeeEstimator(c.Chain)
	}
	if mw.GasEstimator == nil {
		mw.GasEstimator = middleware.NewGasEstimator(c.Bundler)
	}

	m := c.Metrics
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &SmartAccountClient{
		account:    c.Account,
		bundler:    c.Bundler,
		middleware: mw,
		feeOptions: c.FeeOptions,
		wait:       c.Wait.withDefaults(),
		history:    c.History,
		metrics:    m,
		logger:     logger.For(c.Logger, "smartclient"),
		baseLogger: logger.EnsureLogger(c.Logger),
	}, nil
}

// Account returns the default account, which may be nil.
func (c *SmartAccountClient) Account() aa.SmartContractAccount { return c.account }

// Middleware returns the stage configuration after defaults were applied.
func (c *SmartAccountClient) Middleware() middleware.Config { return c.middleware }

func (c *SmartAccountClient) Bundler() bundler.Client { return c.bundler }

func (c *SmartAccountClient) resolveAccount(account aa.SmartContractAccount) (aa.SmartContractAccount, error) {
	if account != nil {
		return account, nil
	}
	if c.account == nil {
		return nil, aaerr.NewAccountNotFoundError()
	}
	return c.account, nil
}

func (c *SmartAccountClient) runMiddleware(ctx context.Context, s userop.Struct, account aa.SmartContractAccount, overrides *userop.Overrides, pmContext map[string]interface{}) (userop.Struct, error) {
	pipeline := middleware.NewPipeline(c.baseLogger, c.middleware.Stages(overrides)...)
	return pipeline.Run(ctx, s, middleware.Params{
		Account:    account,
		Overrides:  overrides,
		FeeOptions: c.feeOptions,
		Context:    pmContext,
	})
}
