package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

// FakeBundler records user operations and serves the eth_ namespace of an
// ERC-4337 bundler in process. Receipts become available after
// ReceiptAfter null polls.
type FakeBundler struct {
	mu sync.Mutex

	ChainID     *big.Int
	EntryPoints []common.Address
	Estimate    map[string]string
	SendErr     error
	// ReceiptAfter is how many receipt polls return null before the receipt
	// shows up. A negative value never returns a receipt.
	ReceiptAfter int

	Sent              []json.RawMessage
	EstimateCalls     int
	ReceiptCalls      int
	LastStateOverride map[string]interface{}

	ops map[common.Hash]json.RawMessage
}

func NewFakeBundler() *FakeBundler {
	return &FakeBundler{
		ChainID:     GetTestChainID(),
		EntryPoints: []common.Address{entrypoint.AddressV06, entrypoint.AddressV07},
		Estimate: map[string]string{
			"preVerificationGas":   "0xb708",
			"verificationGasLimit": "0x186a0",
			"callGasLimit":         "0x9c40",
		},
		ops: map[common.Hash]json.RawMessage{},
	}
}

// Dial starts an in-process RPC server for the fake and returns a client
// connected to it plus a function that stops both.
func (b *FakeBundler) Dial() (*rpc.Client, func()) {
	server := rpc.NewServer()
	if err := server.RegisterName("eth", &bundlerService{b: b}); err != nil {
		panic(err)
	}
	client := rpc.DialInProc(server)
	return client, func() {
		client.Close()
		server.Stop()
	}
}

func (b *FakeBundler) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}

// LastSent decodes the most recently sent operation.
func (b *FakeBundler) LastSent() (userop.Request, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Sent) == 0 {
		return nil, errors.New("nothing sent")
	}
	return userop.DecodeRequest(b.Sent[len(b.Sent)-1])
}

type bundlerService struct {
	b *FakeBundler
}

func (s *bundlerService) SendUserOperation(_ context.Context, op json.RawMessage, ep common.Address) (common.Hash, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		return common.Hash{}, b.SendErr
	}
	req, err := userop.DecodeRequest(op)
	if err != nil {
		return common.Hash{}, err
	}
	hash, err := entrypoint.GetUserOperationHash(req, ep, b.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	b.Sent = append(b.Sent, op)
	b.ops[hash] = op
	return hash, nil
}

func (s *bundlerService) EstimateUserOperationGas(_ context.Context, op json.RawMessage, ep common.Address, override *map[string]interface{}) (map[string]string, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.EstimateCalls++
	b.LastStateOverride = nil
	if override != nil {
		b.LastStateOverride = *override
	}
	return b.Estimate, nil
}

func (s *bundlerService) GetUserOperationReceipt(_ context.Context, hash common.Hash) (json.RawMessage, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ReceiptCalls++
	op, ok := b.ops[hash]
	if !ok || b.ReceiptAfter < 0 || b.ReceiptCalls <= b.ReceiptAfter {
		return nil, nil
	}
	req, err := userop.DecodeRequest(op)
	if err != nil {
		return nil, err
	}
	txHash := common.BytesToHash(append(hash.Bytes()[16:], hash.Bytes()[:16]...))
	return json.Marshal(map[string]interface{}{
		"userOpHash":    hash,
		"entryPoint":    b.EntryPoints[0],
		"sender":        req.GetSender(),
		"nonce":         "0x0",
		"actualGasCost": "0x5208",
		"actualGasUsed": "0x5208",
		"success":       true,
		"logs":          []interface{}{},
		"receipt": map[string]interface{}{
			"transactionHash": txHash,
			"blockNumber":     "0x1",
			"status":          "0x1",
		},
	})
}

func (s *bundlerService) GetUserOperationByHash(_ context.Context, hash common.Hash) (json.RawMessage, error) {
	b := s.b
	b.mu.Lock()
	defer b.mu.Unlock()
	op, ok := b.ops[hash]
	if !ok {
		return nil, nil
	}
	return json.Marshal(map[string]interface{}{
		"userOperation":   op,
		"entryPoint":      b.EntryPoints[0],
		"blockNumber":     "0x1",
		"blockHash":       common.Hash{0x1},
		"transactionHash": common.Hash{0x2},
	})
}

func (s *bundlerService) SupportedEntryPoints(_ context.Context) ([]common.Address, error) {
	return s.b.EntryPoints, nil
}
