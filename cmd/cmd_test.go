package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/core/chainio/signer"
	"github.com/AvaProtocol/ap-aa/core/config"
	"github.com/AvaProtocol/ap-aa/core/history"
	"github.com/AvaProtocol/ap-aa/core/testutil"
	"github.com/AvaProtocol/ap-aa/model"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/smartclient"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/storage"
)

const recipient = "0xe0f7D11FD714674722d325Cd86062A5F1882E13a"

// keepOpen lets every command run close its runtime while the test keeps
// using the same database.
type keepOpen struct{ storage.Storage }

func (keepOpen) Close() error { return nil }

type cli struct {
	chain   *testutil.FakeChain
	bundler *testutil.FakeBundler
	account *aa.SimpleAccount
	history *history.Store
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	chain := testutil.NewFakeChain()
	fake := testutil.NewFakeBundler()
	rpcClient, stop := fake.Dial()
	t.Cleanup(stop)

	ep, err := entrypoint.GetEntryPoint(testutil.GetTestChainID(), userop.V06)
	require.NoError(t, err)
	account, err := aa.NewSimpleAccount(aa.SimpleAccountParams{
		Chain:      chain,
		EntryPoint: ep,
		Owner:      signer.NewLocalAccountSigner(testutil.OwnerPrivateKey()),
		Logger:     testutil.GetLogger(),
	})
	require.NoError(t, err)

	db := testutil.TestMustDB()
	t.Cleanup(func() { db.Close() })
	store := history.NewStore(db, testutil.GetLogger())

	client, err := smartclient.NewSmartAccountClient(smartclient.Config{
		Account: account,
		Bundler: bundler.NewBundlerClientWithRPC(rpcClient, testutil.GetLogger()),
		Chain:   chain,
		Wait:    smartclient.WaitOptions{TxMaxRetries: 3, TxRetryInterval: time.Millisecond, TxRetryMultiplier: 1},
		History: store,
		Logger:  testutil.GetLogger(),
	})
	require.NoError(t, err)

	cfg := &config.Config{Logger: testutil.GetLogger(), EntryPointVersion: userop.V06}
	orig := loadRuntime
	loadRuntime = func(context.Context) (*config.Runtime, error) {
		return config.NewRuntime(cfg, client, keepOpen{db}), nil
	}
	t.Cleanup(func() { loadRuntime = orig })

	return &cli{chain: chain, bundler: fake, account: account, history: store}
}

// run executes one command line against the root command. Flag values are
// reset first because the commands are package level.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// sentHash sends a plain transfer and returns the operation hash.
func (c *cli) sentHash(t *testing.T) common.Hash {
	t.Helper()
	out, err := run(t, "send", "--to", recipient, "--value", "1000")
	require.NoError(t, err)
	line := strings.TrimSpace(strings.TrimPrefix(out, "user operation:"))
	hash, err := parseHash(line)
	require.NoError(t, err)
	return hash
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "0.1.0 (unknown)\n", out)
}

func TestAddressCommand(t *testing.T) {
	c := newCLI(t)
	addr, err := c.account.GetAddress(context.Background())
	require.NoError(t, err)

	out, err := run(t, "address")
	require.NoError(t, err)
	assert.Contains(t, out, "account:    "+addr.Hex())
	assert.Contains(t, out, "deployed:   false")
	assert.Contains(t, out, entrypoint.AddressV06.Hex())
}

func TestEntrypointsCommand(t *testing.T) {
	newCLI(t)
	out, err := run(t, "entrypoints")
	require.NoError(t, err)
	assert.Contains(t, out, entrypoint.AddressV06.Hex()+" (configured)")
	assert.Contains(t, out, entrypoint.AddressV07.Hex()+"\n")
}

func TestSendDryRun(t *testing.T) {
	c := newCLI(t)
	out, err := run(t, "send", "--to", recipient, "--value", "1000", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "call: execute(dest="+common.HexToAddress(recipient).Hex()+", value=1000, func=0x)")
	assert.Contains(t, out, "sponsored: false")
	assert.Zero(t, c.bundler.SentCount())
}

func TestSendAndWait(t *testing.T) {
	c := newCLI(t)
	out, err := run(t, "send", "--to", recipient, "--to", recipient, "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "user operation: 0x")
	assert.Contains(t, out, "transaction:    0x")
	assert.Contains(t, out, "https://sepolia.etherscan.io/tx/")
	assert.Equal(t, 1, c.bundler.SentCount())
}

func TestSendRejectsBadFlags(t *testing.T) {
	newCLI(t)
	_, err := run(t, "send", "--to", "0x1234")
	assert.ErrorContains(t, err, "invalid --to")

	_, err = run(t, "send", "--to", recipient, "--value", "-1")
	assert.ErrorContains(t, err, "invalid --value")

	_, err = run(t, "send", "--to", recipient, "--nonce-key", "xyz")
	assert.ErrorContains(t, err, "invalid --nonce-key")
}

func TestReceiptCommand(t *testing.T) {
	c := newCLI(t)
	hash := c.sentHash(t)

	out, err := run(t, "receipt", hash.Hex())
	require.NoError(t, err)
	assert.NotContains(t, out, "no receipt yet")

	out, err = run(t, "receipt", common.HexToHash("0x99").Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "no receipt yet")

	_, err = run(t, "receipt", "0x1234")
	assert.ErrorContains(t, err, "invalid hash")
}

func TestHistoryAndDropReplace(t *testing.T) {
	c := newCLI(t)
	c.bundler.ReceiptAfter = -1
	hash := c.sentHash(t)

	out, err := run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "1 user operations from")
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, hash.Hex())

	out, err = run(t, "drop-replace", hash.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "replaced:       "+hash.Hex())
	assert.Equal(t, 2, c.bundler.SentCount())

	rec, err := c.history.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReplaced, rec.Status)

	out, err = run(t, "history", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "2 user operations from")
	assert.Contains(t, out, "by "+rec.ReplacedBy.Hex())
	assert.Contains(t, out, "... and 1 more")

	_, err = run(t, "drop-replace", hash.Hex())
	assert.ErrorContains(t, err, "only pending operations can be replaced")

	_, err = run(t, "drop-replace", common.HexToHash("0x99").Hex())
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestHistoryBackupAndRestore(t *testing.T) {
	c := newCLI(t)
	hash := c.sentHash(t)

	out, err := run(t, "history", "backup", "--dir", t.TempDir())
	require.NoError(t, err)
	file := strings.TrimSpace(strings.TrimPrefix(out, "snapshot written to "))
	assert.FileExists(t, file)

	out, err = run(t, "history", "restore", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, "restored "+file)

	_, err = c.history.Get(hash)
	assert.NoError(t, err)

	_, err = run(t, "history", "restore")
	assert.Error(t, err)
}
