package userop

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
)

// Request is a fully resolved user operation in its wire encoding.
// It is implemented by *RequestV6 and *RequestV7.
type Request interface {
	Version() Version
	GetSender() common.Address
	GetNonce() *big.Int
	GetCallData() []byte
	GetMaxFeePerGas() *big.Int
	GetMaxPriorityFeePerGas() *big.Int
	// HasPaymaster reports whether the operation carries sponsorship data.
	HasPaymaster() bool
	WithSignature(sig []byte) Request
}

// RequestV6 is the eth_sendUserOperation payload for entry point v0.6.
type RequestV6 struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             *hexutil.Bytes `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     *hexutil.Bytes `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

// RequestV7 is the eth_sendUserOperation payload for entry point v0.7.
// Optional fields are omitted from the wire encoding when unset.
type RequestV7 struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   *hexutil.Bytes  `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 *hexutil.Bytes  `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

func (r *RequestV6) Version() Version                  { return V06 }
func (r *RequestV6) GetSender() common.Address         { return r.Sender }
func (r *RequestV6) GetNonce() *big.Int                { return r.Nonce.ToInt() }
func (r *RequestV6) GetCallData() []byte               { return r.CallData }
func (r *RequestV6) GetMaxFeePerGas() *big.Int         { return r.MaxFeePerGas.ToInt() }
func (r *RequestV6) GetMaxPriorityFeePerGas() *big.Int { return r.MaxPriorityFeePerGas.ToInt() }
func (r *RequestV6) HasPaymaster() bool {
	return r.PaymasterAndData != nil && len(*r.PaymasterAndData) > 0
}

func (r *RequestV6) WithSignature(sig []byte) Request {
	c := *r
	c.Signature = sig
	return &c
}

func (r *RequestV7) Version() Version                  { return V07 }
func (r *RequestV7) GetSender() common.Address         { return r.Sender }
func (r *RequestV7) GetNonce() *big.Int                { return r.Nonce.ToInt() }
func (r *RequestV7) GetCallData() []byte               { return r.CallData }
func (r *RequestV7) GetMaxFeePerGas() *big.Int         { return r.MaxFeePerGas.ToInt() }
func (r *RequestV7) GetMaxPriorityFeePerGas() *big.Int { return r.MaxPriorityFeePerGas.ToInt() }
func (r *RequestV7) HasPaymaster() bool                { return r.PaymasterData != nil && len(*r.PaymasterData) > 0 }

func (r *RequestV7) WithSignature(sig []byte) Request {
	c := *r
	c.Signature = sig
	return &c
}

// Bytes returns a pointer to b in wire encoding, for the optional byte fields.
func Bytes(b []byte) *hexutil.Bytes {
	h := hexutil.Bytes(b)
	return &h
}

// DecodeRequest decodes a wire user operation, picking the version from the
// fields present.
func DecodeRequest(data []byte) (Request, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("decode user operation: %w", err)
	}
	if _, ok := keys["initCode"]; ok {
		var r RequestV6
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode v0.6 user operation: %w", err)
		}
		return &r, nil
	}
	var r RequestV7
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode v0.7 user operation: %w", err)
	}
	return &r, nil
}

func hexBig(v *big.Int, ok bool) *hexutil.Big {
	if !ok || v == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(v))
}

// Resolve joins every pending field concurrently.
func (s *StructV6) Resolve(ctx context.Context) (Request, error) {
	var (
		out                            RequestV6
		nums                           [6]*big.Int
		numsOk                         [6]bool
		initCode, paymasterAndData     []byte
		initCodeOk, paymasterAndDataOk bool
	)
	err := deferred.All(ctx, append(s.Common.tasks(&out.Sender, (*[]byte)(&out.CallData), (*[]byte)(&out.Signature), &nums, &numsOk),
		deferred.Into(s.InitCode, &initCode, &initCodeOk),
		deferred.Into(s.PaymasterAndData, &paymasterAndData, &paymasterAndDataOk),
	)...)
	if err != nil {
		return nil, err
	}
	out.Nonce = hexBig(nums[0], numsOk[0])
	out.CallGasLimit = hexBig(nums[1], numsOk[1])
	out.VerificationGasLimit = hexBig(nums[2], numsOk[2])
	out.PreVerificationGas = hexBig(nums[3], numsOk[3])
	out.MaxFeePerGas = hexBig(nums[4], numsOk[4])
	out.MaxPriorityFeePerGas = hexBig(nums[5], numsOk[5])
	if initCodeOk {
		out.InitCode = Bytes(initCode)
	}
	if paymasterAndDataOk {
		out.PaymasterAndData = Bytes(paymasterAndData)
	}
	return &out, nil
}

// Resolve joins every pending field concurrently.
func (s *StructV7) Resolve(ctx context.Context) (Request, error) {
	var (
		out                            RequestV7
		nums                           [6]*big.Int
		numsOk                         [6]bool
		factory, paymaster             common.Address
		factoryOk, paymasterOk         bool
		factoryData, paymasterData     []byte
		factoryDataOk, paymasterDataOk bool
		pmVerif, pmPostOp              *big.Int
		pmVerifOk, pmPostOpOk          bool
	)
	err := deferred.All(ctx, append(s.Common.tasks(&out.Sender, (*[]byte)(&out.CallData), (*[]byte)(&out.Signature), &nums, &numsOk),
		deferred.Into(s.Factory, &factory, &factoryOk),
		deferred.Into(s.FactoryData, &factoryData, &factoryDataOk),
		deferred.Into(s.Paymaster, &paymaster, &paymasterOk),
		deferred.Into(s.PaymasterData, &paymasterData, &paymasterDataOk),
		deferred.Into(s.PaymasterVerificationGasLimit, &pmVerif, &pmVerifOk),
		deferred.Into(s.PaymasterPostOpGasLimit, &pmPostOp, &pmPostOpOk),
	)...)
	if err != nil {
		return nil, err
	}
	out.Nonce = hexBig(nums[0], numsOk[0])
	out.CallGasLimit = hexBig(nums[1], numsOk[1])
	out.VerificationGasLimit = hexBig(nums[2], numsOk[2])
	out.PreVerificationGas = hexBig(nums[3], numsOk[3])
	out.MaxFeePerGas = hexBig(nums[4], numsOk[4])
	out.MaxPriorityFeePerGas = hexBig(nums[5], numsOk[5])
	if factoryOk {
		out.Factory = &factory
	}
	if factoryDataOk {
		out.FactoryData = Bytes(factoryData)
	}
	if paymasterOk {
		out.Paymaster = &paymaster
	}
	if paymasterDataOk {
		out.PaymasterData = Bytes(paymasterData)
	}
	out.PaymasterVerificationGasLimit = hexBig(pmVerif, pmVerifOk)
	out.PaymasterPostOpGasLimit = hexBig(pmPostOp, pmPostOpOk)
	return &out, nil
}

// tasks lists the resolve tasks of the shared fields. The numeric fields land
// in nums in the order nonce, callGasLimit, verificationGasLimit,
// preVerificationGas, maxFeePerGas, maxPriorityFeePerGas.
func (c *Common) tasks(sender *common.Address, callData, signature *[]byte, nums *[6]*big.Int, ok *[6]bool) []func(context.Context) error {
	return []func(context.Context) error{
		deferred.Into(c.Sender, sender, nil),
		deferred.Into(c.CallData, callData, nil),
		deferred.Into(c.Signature, signature, nil),
		deferred.Into(c.Nonce, &nums[0], &ok[0]),
		deferred.Into(c.CallGasLimit, &nums[1], &ok[1]),
		deferred.Into(c.VerificationGasLimit, &nums[2], &ok[2]),
		deferred.Into(c.PreVerificationGas, &nums[3], &ok[3]),
		deferred.Into(c.MaxFeePerGas, &nums[4], &ok[4]),
		deferred.Into(c.MaxPriorityFeePerGas, &nums[5], &ok[5]),
	}
}

// ToStruct turns a request back into a resolved struct.
func ToStruct(r Request) Struct {
	switch req := r.(type) {
	case *RequestV6:
		s := &StructV6{Common: commonOf(req.Sender, req.Nonce, req.CallData, req.CallGasLimit, req.VerificationGasLimit,
			req.PreVerificationGas, req.MaxFeePerGas, req.MaxPriorityFeePerGas, req.Signature)}
		if req.InitCode != nil {
			s.InitCode = deferred.Of([]byte(*req.InitCode))
		}
		if req.PaymasterAndData != nil {
			s.PaymasterAndData = deferred.Of([]byte(*req.PaymasterAndData))
		}
		return s
	case *RequestV7:
		s := &StructV7{Common: commonOf(req.Sender, req.Nonce, req.CallData, req.CallGasLimit, req.VerificationGasLimit,
			req.PreVerificationGas, req.MaxFeePerGas, req.MaxPriorityFeePerGas, req.Signature)}
		if req.Factory != nil {
			s.Factory = deferred.Of(*req.Factory)
		}
		if req.FactoryData != nil {
			s.FactoryData = deferred.Of([]byte(*req.FactoryData))
		}
		if req.Paymaster != nil {
			s.Paymaster = deferred.Of(*req.Paymaster)
		}
		if req.PaymasterData != nil {
			s.PaymasterData = deferred.Of([]byte(*req.PaymasterData))
		}
		s.PaymasterVerificationGasLimit = bigValue(req.PaymasterVerificationGasLimit)
		s.PaymasterPostOpGasLimit = bigValue(req.PaymasterPostOpGasLimit)
		return s
	}
	return nil
}

func commonOf(sender common.Address, nonce *hexutil.Big, callData hexutil.Bytes, cgl, vgl, pvg, mfpg, mpfpg *hexutil.Big, sig hexutil.Bytes) Common {
	return Common{
		Sender:               deferred.Of(sender),
		Nonce:                bigValue(nonce),
		CallData:             deferred.Of([]byte(callData)),
		CallGasLimit:         bigValue(cgl),
		VerificationGasLimit: bigValue(vgl),
		PreVerificationGas:   bigValue(pvg),
		MaxFeePerGas:         bigValue(mfpg),
		MaxPriorityFeePerGas: bigValue(mpfpg),
		Signature:            deferred.Of([]byte(sig)),
	}
}

func bigValue(v *hexutil.Big) deferred.Value[*big.Int] {
	if v == nil {
		return deferred.Absent[*big.Int]()
	}
	return deferred.Of(new(big.Int).Set(v.ToInt()))
}
