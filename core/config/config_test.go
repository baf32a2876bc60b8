package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-aa/core/testutil"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const baseConfig = `
environment: development
eth_rpc_url: https://sepolia.drpc.org
bundler_url: https://bundler.example.org/rpc
owner_private_key: ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80
`

func TestNewConfigDefaults(t *testing.T) {
	c, err := NewConfig(writeConfig(t, baseConfig))
	require.NoError(t, err)

	assert.Equal(t, userop.V06, c.EntryPointVersion)
	assert.Nil(t, c.ChainID)
	assert.Nil(t, c.EntryPointAddress)
	assert.Equal(t, defaultDbPath, c.DbPath)
	assert.Equal(t, big.NewInt(0), c.Salt)
	assert.False(t, c.Paymaster.Enabled())
	assert.Nil(t, c.FeeOptions.MaxFeePerGas)
	assert.Equal(t, testutil.OwnerPrivateKey().D, c.OwnerPrivateKey.D)
}

func TestNewConfigFull(t *testing.T) {
	c, err := NewConfig(writeConfig(t, baseConfig+`
chain_id: 11155111
entrypoint_version: 0.7.0
factory_address: "0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985"
salt: 3
paymaster:
  erc7677_url: https://paymaster.example.org
  policy_id: sp_test
fee_options:
  max_fee_per_gas_multiplier: 1.5
wait:
  tx_max_retries: 8
  tx_retry_interval: 500ms
db_path: /tmp/aa-test-db
`))
	require.NoError(t, err)

	assert.Equal(t, int64(11155111), c.ChainID.Int64())
	assert.Equal(t, userop.V07, c.EntryPointVersion)
	assert.Equal(t, common.HexToAddress("0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985"), *c.FactoryAddress)
	assert.Equal(t, int64(3), c.Salt.Int64())
	assert.True(t, c.Paymaster.Enabled())
	assert.Equal(t, map[string]interface{}{"policyId": "sp_test"}, c.Paymaster.PolicyContext)
	assert.Equal(t, 1.5, c.FeeOptions.MaxFeePerGas.Multiplier)
	assert.Nil(t, c.FeeOptions.CallGasLimit)
	assert.Equal(t, 8, c.Wait.TxMaxRetries)
	assert.Equal(t, 500*time.Millisecond, c.Wait.TxRetryInterval)
	assert.Equal(t, "/tmp/aa-test-db", c.DbPath)
}

func TestNewConfigVerifyingPaymaster(t *testing.T) {
	paymaster := `
paymaster:
  verifying_address: "0x00000000000000000000000000000000000000aa"
  verifying_signer_key: "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
`
	c, err := NewConfig(writeConfig(t, baseConfig+paymaster))
	require.NoError(t, err)
	assert.Equal(t, defaultPaymasterValidFor, c.Paymaster.ValidFor)
	assert.Equal(t, testutil.OwnerAddress(), crypto.PubkeyToAddress(c.Paymaster.VerifyingKey.PublicKey))

	_, err = NewConfig(writeConfig(t, baseConfig+"entrypoint_version: 0.7.0\n"+paymaster))
	assert.ErrorContains(t, err, "verifying_address")
}

func TestNewConfigRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing bundler": `
eth_rpc_url: https://sepolia.drpc.org
owner_private_key: ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80
`,
		"bad version":      baseConfig + "entrypoint_version: 0.8.0\n",
		"bad address":      baseConfig + "account_address: '0x1234'\n",
		"unknown field":    baseConfig + "bundler: foo\n",
		"two paymasters":   baseConfig + "paymaster:\n  erc7677_url: https://pm.example.org\n  verifying_address: '0x00000000000000000000000000000000000000aa'\n  verifying_signer_key: 01\n",
		"verifying no key": baseConfig + "paymaster:\n  verifying_address: '0x00000000000000000000000000000000000000aa'\n",
		"bad owner key":    "eth_rpc_url: https://sepolia.drpc.org\nbundler_url: https://b.example.org\nowner_private_key: nothex\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestExplorerTxURL(t *testing.T) {
	tx := common.HexToHash("0x01")
	assert.Equal(t, "https://sepolia.etherscan.io/tx/"+tx.Hex(), ExplorerTxURL(big.NewInt(11155111), tx))
	assert.Empty(t, ExplorerTxURL(big.NewInt(31337), tx))
	assert.Empty(t, ExplorerTxURL(nil, tx))
}
