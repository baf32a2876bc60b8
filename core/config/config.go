package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/smartclient"
	aalogger "github.com/AvaProtocol/ap-aa/pkg/logger"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

const (
	defaultDbPath            = "/tmp/ap-aa/db"
	defaultPaymasterValidFor = 15 * time.Minute
)

// Config is the parsed and validated form of ConfigRaw. Nothing in it holds
// a connection; Build dials the chain and the bundler.
type Config struct {
	Logger sdklogging.Logger

	EthRpcUrl  string
	BundlerUrl string
	// ChainID is nil when the config leaves it to the node.
	ChainID *big.Int

	EntryPointVersion userop.Version
	EntryPointAddress *common.Address
	FactoryAddress    *common.Address
	AccountAddress    *common.Address
	OwnerPrivateKey   *ecdsa.PrivateKey
	Salt              *big.Int

	Paymaster  PaymasterConfig
	FeeOptions *userop.FeeOptions
	Wait       smartclient.WaitOptions

	DbPath               string
	MetricsIpPortAddress string
	EnableMetrics        bool
}

// PaymasterConfig selects at most one sponsorship backend.
type PaymasterConfig struct {
	Erc7677Url    string
	PolicyContext map[string]interface{}

	VerifyingAddress *common.Address
	VerifyingKey     *ecdsa.PrivateKey
	ValidFor         time.Duration
}

func (p PaymasterConfig) Enabled() bool {
	return p.Erc7677Url != "" || p.VerifyingAddress != nil
}

// These are read from configPath
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment" validate:"omitempty,oneof=production development"`

	EthRpcUrl  string `yaml:"eth_rpc_url" validate:"required,url"`
	BundlerUrl string `yaml:"bundler_url" validate:"required,url"`
	ChainID    int64  `yaml:"chain_id" validate:"gte=0"`

	EntryPointVersion string `yaml:"entrypoint_version" validate:"omitempty,oneof=0.6.0 0.7.0"`
	EntryPointAddress string `yaml:"entrypoint_address" validate:"omitempty,eth_addr"`
	FactoryAddress    string `yaml:"factory_address" validate:"omitempty,eth_addr"`
	AccountAddress    string `yaml:"account_address" validate:"omitempty,eth_addr"`
	OwnerPrivateKey   string `yaml:"owner_private_key" validate:"required"`
	Salt              int64  `yaml:"salt" validate:"gte=0"`

	Paymaster  PaymasterRaw  `yaml:"paymaster"`
	FeeOptions FeeOptionsRaw `yaml:"fee_options"`
	Wait       WaitRaw       `yaml:"wait"`

	DbPath               string `yaml:"db_path"`
	MetricsIpPortAddress string `yaml:"metrics_ip_port_address" validate:"omitempty,hostname_port"`
	EnableMetrics        bool   `yaml:"enable_metrics"`
}

type PaymasterRaw struct {
	Erc7677Url string `yaml:"erc7677_url" validate:"omitempty,url,excluded_with=VerifyingAddress"`
	PolicyID   string `yaml:"policy_id"`

	VerifyingAddress   string        `yaml:"verifying_address" validate:"omitempty,eth_addr"`
	VerifyingSignerKey string        `yaml:"verifying_signer_key" validate:"required_with=VerifyingAddress"`
	ValidFor           time.Duration `yaml:"valid_for" validate:"gte=0"`
}

// FeeOptionsRaw holds multipliers only; bounds stay code level settings.
type FeeOptionsRaw struct {
	MaxFeePerGasMultiplier         float64 `yaml:"max_fee_per_gas_multiplier" validate:"gte=0"`
	MaxPriorityFeePerGasMultiplier float64 `yaml:"max_priority_fee_per_gas_multiplier" validate:"gte=0"`
	CallGasLimitMultiplier         float64 `yaml:"call_gas_limit_multiplier" validate:"gte=0"`
	VerificationGasLimitMultiplier float64 `yaml:"verification_gas_limit_multiplier" validate:"gte=0"`
	PreVerificationGasMultiplier   float64 `yaml:"pre_verification_gas_multiplier" validate:"gte=0"`
}

type WaitRaw struct {
	TxMaxRetries      int           `yaml:"tx_max_retries" validate:"gte=0"`
	TxRetryInterval   time.Duration `yaml:"tx_retry_interval" validate:"gte=0"`
	TxRetryMultiplier float64       `yaml:"tx_retry_multiplier" validate:"gte=0"`
}

// ReadConfigRaw decodes the YAML file at path and validates it.
func ReadConfigRaw(path string) (*ConfigRaw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var raw ConfigRaw
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := validator.New().Struct(&raw); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &raw, nil
}

// NewConfig reads configFilePath and builds the Config from it.
func NewConfig(configFilePath string) (*Config, error) {
	raw, err := ReadConfigRaw(configFilePath)
	if err != nil {
		return nil, err
	}
	return raw.Build()
}

// Build converts the raw values. The raw config must have been validated.
func (r *ConfigRaw) Build() (*Config, error) {
	logger, err := aalogger.New(r.Environment)
	if err != nil {
		return nil, err
	}

	owner, err := parseKey(r.OwnerPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("owner_private_key: %w", err)
	}

	version := userop.V06
	if r.EntryPointVersion != "" {
		version = userop.Version(r.EntryPointVersion)
	}

	c := &Config{
		Logger:            logger,
		EthRpcUrl:         r.EthRpcUrl,
		BundlerUrl:        r.BundlerUrl,
		EntryPointVersion: version,
		EntryPointAddress: optionalAddress(r.EntryPointAddress),
		FactoryAddress:    optionalAddress(r.FactoryAddress),
		AccountAddress:    optionalAddress(r.AccountAddress),
		OwnerPrivateKey:   owner,
		Salt:              big.NewInt(r.Salt),
		FeeOptions:        r.FeeOptions.build(),
		Wait: smartclient.WaitOptions{
			TxMaxRetries:      r.Wait.TxMaxRetries,
			TxRetryInterval:   r.Wait.TxRetryInterval,
			TxRetryMultiplier: r.Wait.TxRetryMultiplier,
		},
		DbPath:               r.DbPath,
		MetricsIpPortAddress: r.MetricsIpPortAddress,
		EnableMetrics:        r.EnableMetrics,
	}
	if r.ChainID > 0 {
		c.ChainID = big.NewInt(r.ChainID)
	}
	if c.DbPath == "" {
		c.DbPath = defaultDbPath
	}

	if c.Paymaster, err = r.Paymaster.build(); err != nil {
		return nil, err
	}
	if c.Paymaster.VerifyingAddress != nil && version != userop.V06 {
		return nil, fmt.Errorf("paymaster.verifying_address only supports entry point %s", userop.V06)
	}
	return c, nil
}

func (p PaymasterRaw) build() (PaymasterConfig, error) {
	out := PaymasterConfig{
		Erc7677Url:       p.Erc7677Url,
		VerifyingAddress: optionalAddress(p.VerifyingAddress),
		ValidFor:         p.ValidFor,
	}
	if p.PolicyID != "" {
		out.PolicyContext = map[string]interface{}{"policyId": p.PolicyID}
	}
	if out.VerifyingAddress != nil {
		key, err := parseKey(p.VerifyingSignerKey)
		if err != nil {
			return out, fmt.Errorf("paymaster.verifying_signer_key: %w", err)
		}
		out.VerifyingKey = key
		if out.ValidFor == 0 {
			out.ValidFor = defaultPaymasterValidFor
		}
	}
	return out, nil
}

func (f FeeOptionsRaw) build() *userop.FeeOptions {
	option := func(m float64) *userop.FeeOption {
		if m == 0 {
			return nil
		}
		return &userop.FeeOption{Multiplier: m}
	}
	return &userop.FeeOptions{
		MaxFeePerGas:         option(f.MaxFeePerGasMultiplier),
		MaxPriorityFeePerGas: option(f.MaxPriorityFeePerGasMultiplier),
		CallGasLimit:         option(f.CallGasLimitMultiplier),
		VerificationGasLimit: option(f.VerificationGasLimitMultiplier),
		PreVerificationGas:   option(f.PreVerificationGasMultiplier),
	}
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}

func optionalAddress(s string) *common.Address {
	if s == "" {
		return nil
	}
	addr := common.HexToAddress(s)
	return &addr
}
