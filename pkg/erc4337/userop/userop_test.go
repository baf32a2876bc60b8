package userop

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
)

func hb(v int64) *hexutil.Big { return (*hexutil.Big)(big.NewInt(v)) }

func validV6() *RequestV6 {
	return &RequestV6{
		Sender:               common.HexToAddress("0xb856DBD4fA1A79a46D426f537455e7d3E79ab7c4"),
		Nonce:                hb(0x1f),
		InitCode:             Bytes(nil),
		CallData:             hexutil.MustDecode("0xb61d27f6"),
		CallGasLimit:         hb(0x2f6c),
		VerificationGasLimit: hb(0x114c2),
		PreVerificationGas:   hb(0xa890),
		MaxFeePerGas:         hb(0x59682f1e),
		MaxPriorityFeePerGas: hb(0x59682f00),
		PaymasterAndData:     Bytes(nil),
	}
}

func validV7() *RequestV7 {
	return &RequestV7{
		Sender:               common.HexToAddress("0xb856DBD4fA1A79a46D426f537455e7d3E79ab7c4"),
		Nonce:                hb(0),
		CallData:             hexutil.MustDecode("0xb61d27f6"),
		CallGasLimit:         hb(0x2f6c),
		VerificationGasLimit: hb(0x114c2),
		PreVerificationGas:   hb(0xa890),
		MaxFeePerGas:         hb(0x59682f1e),
		MaxPriorityFeePerGas: hb(0),
	}
}

func TestValidateV6(t *testing.T) {
	require.NoError(t, Validate(validV6()))

	cases := map[string]func(r *RequestV6){
		"zero call gas":              func(r *RequestV6) { r.CallGasLimit = hb(0) },
		"missing max fee":            func(r *RequestV6) { r.MaxFeePerGas = nil },
		"zero pre verification":      func(r *RequestV6) { r.PreVerificationGas = hb(0) },
		"zero verification gas":      func(r *RequestV6) { r.VerificationGasLimit = hb(0) },
		"missing priority fee":       func(r *RequestV6) { r.MaxPriorityFeePerGas = nil },
		"missing init code":          func(r *RequestV6) { r.InitCode = nil },
		"missing paymaster and data": func(r *RequestV6) { r.PaymasterAndData = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := validV6()
			mutate(r)
			err := Validate(r)
			require.Error(t, err)
			assert.True(t, errors.Is(err, aaerr.ErrInvalidUserOperation))
		})
	}
}

func TestValidateV7AllOrNothing(t *testing.T) {
	require.NoError(t, Validate(validV7()))

	withFactory := validV7()
	factory := common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	withFactory.Factory = &factory
	withFactory.FactoryData = Bytes([]byte{0x01})
	require.NoError(t, Validate(withFactory))

	partialFactory := validV7()
	partialFactory.Factory = &factory
	assert.False(t, IsValid(partialFactory))

	pm := common.HexToAddress("0x0000000000000000000000000000000000000abc")
	fullPaymaster := validV7()
	fullPaymaster.Paymaster = &pm
	fullPaymaster.PaymasterData = Bytes([]byte{0x02})
	fullPaymaster.PaymasterVerificationGasLimit = hb(1)
	fullPaymaster.PaymasterPostOpGasLimit = hb(0)
	require.NoError(t, Validate(fullPaymaster))

	partialPaymaster := validV7()
	partialPaymaster.Paymaster = &pm
	partialPaymaster.PaymasterData = Bytes([]byte{0x02})
	assert.False(t, IsValid(partialPaymaster))
}

func TestStructResolve(t *testing.T) {
	s := &StructV7{}
	s.Sender = deferred.Of(common.HexToAddress("0x01"))
	s.Nonce = deferred.Func(func(context.Context) (*big.Int, error) { return big.NewInt(7), nil })
	s.CallData = deferred.Of([]byte{0xaa})
	s.Factory = deferred.Of(common.HexToAddress("0x02"))
	s.FactoryData = deferred.Func(func(context.Context) ([]byte, error) { return []byte{0xbb}, nil })

	r, err := s.Resolve(context.Background())
	require.NoError(t, err)
	req := r.(*RequestV7)

	assert.Equal(t, int64(7), req.Nonce.ToInt().Int64())
	require.NotNil(t, req.Factory)
	assert.Equal(t, common.HexToAddress("0x02"), *req.Factory)
	assert.Equal(t, hexutil.Bytes{0xbb}, *req.FactoryData)
	assert.Nil(t, req.Paymaster)
	assert.Nil(t, req.CallGasLimit)
}

func TestResolvePropagatesError(t *testing.T) {
	boom := errors.New("rpc down")
	s := &StructV6{}
	s.InitCode = deferred.Func(func(context.Context) ([]byte, error) { return nil, boom })

	_, err := s.Resolve(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestRequestJSON(t *testing.T) {
	raw, err := json.Marshal(validV7())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "factory")
	assert.NotContains(t, string(raw), "paymaster")
	assert.Contains(t, string(raw), `"callGasLimit":"0x2f6c"`)

	raw, err = json.Marshal(validV6())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"initCode":"0x"`)

	decoded, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, V06, decoded.Version())
	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(again))
}

func TestToStructRoundTrip(t *testing.T) {
	req := validV6()
	req.Signature = hexutil.MustDecode("0x1234")

	back, err := ToStruct(req).Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, req, back)
}

func TestBigIntPercent(t *testing.T) {
	assert.Equal(t, int64(110), BigIntPercent(big.NewInt(100), 110, RoundUp).Int64())
	assert.Equal(t, int64(90), BigIntPercent(big.NewInt(100), 90, RoundDown).Int64())
	assert.Equal(t, int64(12), BigIntPercent(big.NewInt(11), 110, RoundUp).Int64())
	assert.Equal(t, int64(9), BigIntPercent(big.NewInt(11), 90, RoundDown).Int64())
}

func TestBigIntMultiply(t *testing.T) {
	got, err := BigIntMultiply(big.NewInt(100), 1.1, RoundUp)
	require.NoError(t, err)
	assert.Equal(t, int64(110), got.Int64())

	got, err = BigIntMultiply(big.NewInt(3), 1.5, RoundDown)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Int64())

	_, err = BigIntMultiply(big.NewInt(3), 1.00001, RoundUp)
	assert.Error(t, err)
}

func TestBigIntMaxAndClamp(t *testing.T) {
	assert.Equal(t, int64(9), BigIntMax(big.NewInt(3), nil, big.NewInt(9), big.NewInt(1)).Int64())
	assert.Nil(t, BigIntMax())

	got, err := BigIntClamp(big.NewInt(50), big.NewInt(60), big.NewInt(100))
	require.NoError(t, err)
	assert.Equal(t, int64(60), got.Int64())

	_, err = BigIntClamp(big.NewInt(50), big.NewInt(60), big.NewInt(10))
	assert.Error(t, err)
}

func TestApplyOverrideOrFeeOption(t *testing.T) {
	opt := &FeeOption{Multiplier: 1.5, Min: big.NewInt(10), Max: big.NewInt(1000)}

	got, err := ApplyOverrideOrFeeOption(big.NewInt(100), nil, opt)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.Int64())

	got, err = ApplyOverrideOrFeeOption(big.NewInt(100), Absolute(big.NewInt(5)), opt)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Int64(), "absolute override wins over fee option bounds")

	got, err = ApplyOverrideOrFeeOption(big.NewInt(100), Multiply(2), opt)
	require.NoError(t, err)
	assert.Equal(t, int64(200), got.Int64())

	got, err = ApplyOverrideOrFeeOption(nil, Multiply(2), opt)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Int64(), "missing value falls back to the minimum")

	got, err = ApplyOverrideOrFeeOption(nil, nil, &FeeOption{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Int64())
}

func TestOverridesBypass(t *testing.T) {
	var nilOverrides *Overrides
	assert.False(t, nilOverrides.BypassPaymaster())
	assert.True(t, (&Overrides{PaymasterAndData: Bytes(nil)}).BypassPaymaster())
	assert.True(t, (&Overrides{PaymasterData: Bytes([]byte{1})}).HasV7Fields())
	assert.False(t, (&Overrides{MaxFeePerGas: Multiply(1.2)}).BypassPaymaster())
}
