package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-aa/core/history"
	"github.com/AvaProtocol/ap-aa/core/testutil"
	"github.com/AvaProtocol/ap-aa/model"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/storage"
)

func pendingRequest() *userop.RequestV6 {
	return &userop.RequestV6{
		Sender:               common.HexToAddress("0xb856DBD4fA1A79a46D426f537455e7d3E79ab7c4"),
		Nonce:                (*hexutil.Big)(common.Big1),
		InitCode:             userop.Bytes([]byte{}),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         (*hexutil.Big)(common.Big3),
		VerificationGasLimit: (*hexutil.Big)(common.Big3),
		PreVerificationGas:   (*hexutil.Big)(common.Big3),
		MaxFeePerGas:         (*hexutil.Big)(common.Big2),
		MaxPriorityFeePerGas: (*hexutil.Big)(common.Big1),
		PaymasterAndData:     userop.Bytes([]byte{}),
		Signature:            common.FromHex("0xd16f93b5"),
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	logger := testutil.GetLogger()

	src := testutil.TestMustDB()
	defer src.Close()
	hash := common.HexToHash("0xabc1")
	require.NoError(t, history.NewStore(src, logger).RecordSent(ctx, hash, entrypoint.AddressV06, pendingRequest()))

	dir := t.TempDir()
	svc := NewService(logger, src, dir)
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 0, 0, time.UTC) }

	file, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "26-03-04-05-06", snapshotFile), file)
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	dst, err := storage.New(&storage.Config{InMemory: true})
	require.NoError(t, err)
	defer dst.Close()
	require.NoError(t, NewService(logger, dst, dir).Restore(ctx, file))

	rec, err := history.NewStore(dst, logger).Get(hash)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, pendingRequest().Sender, rec.Sender)
}

func TestRestoreMissingFile(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	err := NewService(testutil.GetLogger(), db, t.TempDir()).Restore(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.ErrorContains(t, err, "open backup file")
}

func TestSnapshotHonoursContext(t *testing.T) {
	db := testutil.TestMustDB()
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewService(testutil.GetLogger(), db, t.TempDir()).Snapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
