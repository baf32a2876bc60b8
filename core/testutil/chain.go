package testutil

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
)

// RevertError mimics the error go-ethereum returns for a reverted eth_call.
type RevertError struct {
	Data string
}

func (e *RevertError) Error() string          { return "execution reverted" }
func (e *RevertError) ErrorCode() int         { return 3 }
func (e *RevertError) ErrorData() interface{} { return e.Data }

// FakeChain is an in-memory node serving the reads an account and the fee
// estimator make. Counterfactual addresses are keccak(initCode)[12:] unless
// SenderOverride is set.
type FakeChain struct {
	mu      sync.Mutex
	code    map[common.Address][]byte
	storage map[common.Address]map[common.Hash][]byte
	nonces  map[common.Address]*big.Int

	SenderOverride *common.Address
	CallErr        error
	BaseFee        *big.Int
	TipCap         *big.Int

	CodeAtCalls       atomic.Int32
	CallContractCalls atomic.Int32
	SenderCalls       atomic.Int32
	NonceCalls        atomic.Int32
	FeeCalls          atomic.Int32
}

func NewFakeChain() *FakeChain {
	return &FakeChain{
		code:    map[common.Address][]byte{},
		storage: map[common.Address]map[common.Hash][]byte{},
		nonces:  map[common.Address]*big.Int{},
		BaseFee: Gwei(10),
		TipCap:  Gwei(1),
	}
}

// CounterfactualAddress is the address the fake entry point reports for
// initCode.
func CounterfactualAddress(initCode []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(initCode)[12:])
}

func (c *FakeChain) Deploy(addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = []byte{0x60, 0x80, 0x60, 0x40}
}

func (c *FakeChain) SetStorage(addr common.Address, slot common.Hash, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storage[addr] == nil {
		c.storage[addr] = map[common.Hash][]byte{}
	}
	c.storage[addr][slot] = value
}

func (c *FakeChain) SetNonce(addr common.Address, nonce *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[addr] = nonce
}

func (c *FakeChain) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	c.CodeAtCalls.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[account], nil
}

func (c *FakeChain) StorageAt(_ context.Context, account common.Address, key common.Hash, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.storage[account] == nil {
		return nil, nil
	}
	return c.storage[account][key], nil
}

func (c *FakeChain) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.CallContractCalls.Add(1)
	if c.CallErr != nil {
		return nil, c.CallErr
	}
	if len(call.Data) < 4 {
		return nil, nil
	}

	method, err := entrypoint.ABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, nil
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "getSenderAddress":
		c.SenderCalls.Add(1)
		sender := CounterfactualAddress(args[0].([]byte))
		if c.SenderOverride != nil {
			sender = *c.SenderOverride
		}
		revert := entrypoint.ABI.Errors["SenderAddressResult"]
		enc, err := revert.Inputs.Pack(sender)
		if err != nil {
			return nil, err
		}
		return nil, &RevertError{Data: hexutil.Encode(append(bytes.Clone(revert.ID[:4]), enc...))}
	case "getNonce":
		c.NonceCalls.Add(1)
		c.mu.Lock()
		nonce := c.nonces[args[0].(common.Address)]
		c.mu.Unlock()
		if nonce == nil {
			nonce = big.NewInt(0)
		}
		return method.Outputs.Pack(nonce)
	}
	return nil, nil
}

func (c *FakeChain) HeaderByNumber(_ context.Context, number *big.Int) (*types.Header, error) {
	c.FeeCalls.Add(1)
	h := &types.Header{Number: big.NewInt(1)}
	if c.BaseFee != nil {
		h.BaseFee = new(big.Int).Set(c.BaseFee)
	}
	return h, nil
}

func (c *FakeChain) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.TipCap), nil
}
