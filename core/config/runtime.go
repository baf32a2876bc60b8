package config

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Layr-Labs/eigensdk-go/chainio/clients/eth"
	sdkmetrics "github.com/Layr-Labs/eigensdk-go/metrics"
	rpccalls "github.com/Layr-Labs/eigensdk-go/metrics/collectors/rpc_calls"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/core/chainio/signer"
	"github.com/AvaProtocol/ap-aa/core/history"
	"github.com/AvaProtocol/ap-aa/metrics"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/middleware"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/smartclient"
	"github.com/AvaProtocol/ap-aa/storage"
)

const (
	serviceName          = "ap-aa"
	addressCacheLifetime = 10 * time.Minute
)

var dialEth = ethclient.DialContext

// ChainClient is what the account, the fee estimator and the verifying
// paymaster read from the node.
type ChainClient interface {
	eth.HttpBackend
	ChainID(ctx context.Context) (*big.Int, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// Runtime holds the connections built from a Config. Close releases them.
type Runtime struct {
	Config     *Config
	Chain      ChainClient
	Bundler    *bundler.BundlerClient
	EntryPoint *entrypoint.Def
	Account    *aa.SimpleAccount
	Client     *smartclient.SmartAccountClient
	History    *history.Store
	Metrics    metrics.MetricsGenerator

	metricsReg *prometheus.Registry
	ethClient  *ethclient.Client
	db         storage.Storage
	cache      *aa.AddressCache
}

// Build dials the node and the bundler and assembles the smart account
// client with the configured paymaster, history store and metrics.
func (c *Config) Build(ctx context.Context) (*Runtime, error) {
	rt := &Runtime{Config: c}
	logger := c.Logger

	ethClient, err := dialEth(ctx, c.EthRpcUrl)
	if err != nil {
		logger.Error("Cannot create http ethclient", "err", err)
		return nil, err
	}
	rt.ethClient = ethClient

	if c.EnableMetrics {
		rt.metricsReg = prometheus.NewRegistry()
		eigenMetrics := sdkmetrics.NewEigenMetrics(serviceName, c.MetricsIpPortAddress, rt.metricsReg, logger)
		rt.Metrics = metrics.NewAAMetrics(eigenMetrics, rt.metricsReg)
		rt.Chain = eth.NewInstrumentedClientFromClient(ethClient, rpccalls.NewCollector(serviceName, rt.metricsReg))
	} else {
		rt.Metrics = metrics.NewNoopMetrics()
		rt.Chain = ethClient
	}

	chainID := c.ChainID
	if chainID == nil {
		if chainID, err = rt.Chain.ChainID(ctx); err != nil {
			logger.Error("Cannot get chainId", "err", err)
			rt.Close()
			return nil, err
		}
	}

	var epOpts []entrypoint.Option
	if c.EntryPointAddress != nil {
		epOpts = append(epOpts, entrypoint.WithAddress(*c.EntryPointAddress))
	}
	if rt.EntryPoint, err = entrypoint.GetEntryPoint(chainID, c.EntryPointVersion, epOpts...); err != nil {
		rt.Close()
		return nil, err
	}

	if rt.Bundler, err = bundler.NewBundlerClient(c.BundlerUrl, logger); err != nil {
		rt.Close()
		return nil, err
	}

	if rt.cache, err = aa.NewAddressCache(ctx, addressCacheLifetime); err != nil {
		rt.Close()
		return nil, err
	}
	rt.Account, err = aa.NewSimpleAccount(aa.SimpleAccountParams{
		Chain:          rt.Chain,
		EntryPoint:     rt.EntryPoint,
		Owner:          signer.NewLocalAccountSigner(c.OwnerPrivateKey),
		FactoryAddress: c.FactoryAddress,
		Salt:           c.Salt,
		AccountAddress: c.AccountAddress,
		AddressCache:   rt.cache,
		Logger:         logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	if rt.db, err = storage.NewWithPath(c.DbPath); err != nil {
		rt.Close()
		return nil, fmt.Errorf("open history db %s: %w", c.DbPath, err)
	}
	rt.History = history.NewStore(rt.db, logger)

	rt.Client, err = smartclient.NewSmartAccountClient(smartclient.Config{
		Account:    rt.Account,
		Bundler:    rt.Bundler,
		Chain:      rt.Chain,
		Middleware: c.middleware(rt),
		FeeOptions: c.FeeOptions,
		Wait:       c.Wait,
		History:    rt.History,
		Metrics:    rt.Metrics,
		Logger:     logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (c *Config) middleware(rt *Runtime) middleware.Config {
	var mw middleware.Config
	switch {
	case c.Paymaster.Erc7677Url != "":
		return middleware.NewErc7677Middleware(c.Paymaster.Erc7677Url, c.Paymaster.PolicyContext, c.Logger).Apply(mw)
	case c.Paymaster.VerifyingAddress != nil:
		return middleware.NewVerifyingPaymasterMiddleware(rt.Chain, *c.Paymaster.VerifyingAddress, c.Paymaster.VerifyingKey, c.Paymaster.ValidFor).Apply(mw)
	}
	return mw
}

// StartMetrics serves the registry when metrics are enabled. The returned
// channel never fires otherwise.
func (rt *Runtime) StartMetrics(ctx context.Context) <-chan error {
	if rt.metricsReg == nil {
		return make(chan error)
	}
	return rt.Metrics.Start(ctx, rt.metricsReg)
}

// HistoryDB is the badger store behind History.
func (rt *Runtime) HistoryDB() storage.Storage {
	return rt.db
}

// NewRuntime wraps already built components. Close still releases db.
func NewRuntime(c *Config, client *smartclient.SmartAccountClient, db storage.Storage) *Runtime {
	rt := &Runtime{Config: c, Client: client, db: db, Metrics: metrics.NewNoopMetrics()}
	if db != nil {
		rt.History = history.NewStore(db, c.Logger)
	}
	return rt
}

func (rt *Runtime) Close() {
	if rt.ethClient != nil {
		rt.ethClient.Close()
		rt.ethClient = nil
	}
	if rt.Bundler != nil {
		rt.Bundler.Close()
		rt.Bundler = nil
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			rt.Config.Logger.Warn("failed to close address cache", "error", err)
		}
		rt.cache = nil
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.Config.Logger.Warn("failed to close history db", "error", err)
		}
		rt.db = nil
	}
}
