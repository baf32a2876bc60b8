package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-aa/core/testutil"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
)

type pmCall struct {
	Method string
	Params []json.RawMessage
}

// paymasterService answers ERC-7677 requests with canned results per method.
type paymasterService struct {
	mu      sync.Mutex
	calls   []pmCall
	results map[string]interface{}
	errMsg  string
}

func (p *paymasterService) handler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Id     int               `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.mu.Lock()
	p.calls = append(p.calls, pmCall{Method: req.Method, Params: req.Params})
	p.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.Id}
	if p.errMsg != "" {
		resp["error"] = map[string]interface{}{"code": -32602, "message": p.errMsg}
	} else {
		resp["result"] = p.results[req.Method]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newPaymasterServer(t *testing.T, results map[string]interface{}) (*paymasterService, string) {
	svc := &paymasterService{results: results}
	srv := httptest.NewServer(http.HandlerFunc(svc.handler))
	t.Cleanup(srv.Close)
	return svc, srv.URL
}

func TestErc7677V6(t *testing.T) {
	ctx := context.Background()
	chain := testutil.NewFakeChain()
	acct := newAccount(t, chain, userop.V06)
	client, _ := newTestBundler(t)

	svc, url := newPaymasterServer(t, map[string]interface{}{
		"pm_getPaymasterStubData": map[string]interface{}{"paymasterAndData": "0xaaaa"},
		"pm_getPaymasterData":     map[string]interface{}{"paymasterAndData": "0xbbbb"},
	})
	pm := NewErc7677Middleware(url, map[string]interface{}{"policyId": "p-1"}, testutil.GetLogger())
	cfg := pm.Apply(Config{
		FeeEstimator: NewFeeEstimator(chain),
		GasEstimator: NewGasEstimator(client),
	})

	out, err := NewPipeline(nil, cfg.Stages(nil)...).Run(ctx, baseV6(), Params{
		Account: acct,
		Context: map[string]interface{}{"sponsor": "alice"},
	})
	require.NoError(t, err)
	req, err := out.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0xbbbb"), []byte(*req.(*userop.RequestV6).PaymasterAndData))

	require.Len(t, svc.calls, 2)
	stub, final := svc.calls[0], svc.calls[1]
	assert.Equal(t, "pm_getPaymasterStubData", stub.Method)
	assert.Equal(t, "pm_getPaymasterData", final.Method)

	require.Len(t, stub.Params, 4)
	var op map[string]interface{}
	require.NoError(t, json.Unmarshal(stub.Params[0], &op))
	assert.Equal(t, "0x0", op["callGasLimit"])
	assert.Equal(t, "0x0", op["maxFeePerGas"])

	var ep common.Address
	require.NoError(t, json.Unmarshal(stub.Params[1], &ep))
	assert.Equal(t, entrypoint.AddressV06, ep)
	assert.JSONEq(t, `"0xaa36a7"`, string(stub.Params[2]))
	assert.JSONEq(t, `{"policyId":"p-1","sponsor":"alice"}`, string(stub.Params[3]))

	// the final request carries the estimated values
	require.NoError(t, json.Unmarshal(final.Params[0], &op))
	assert.Equal(t, "0x9c40", op["callGasLimit"])
	assert.Equal(t, "0xaaaa", op["paymasterAndData"])
}

func TestErc7677V7TakesGasLimitsFromStubOnly(t *testing.T) {
	ctx := context.Background()
	acct := newAccount(t, testutil.NewFakeChain(), userop.V07)
	paymaster := "0x0000000000000039cd5e8ae05257ce51c473ddd1"

	_, url := newPaymasterServer(t, map[string]interface{}{
		"pm_getPaymasterStubData": map[string]interface{}{
			"paymaster":                     paymaster,
			"paymasterData":                 "0x01",
			"paymasterVerificationGasLimit": "0x7530",
			"paymasterPostOpGasLimit":       "0x3e8",
		},
		"pm_getPaymasterData": map[string]interface{}{
			"paymaster":                     paymaster,
			"paymasterData":                 "0x0202",
			"paymasterVerificationGasLimit": "0x1",
		},
	})
	pm := NewErc7677Middleware(url, nil, nil)
	cfg := pm.Apply(Config{})

	out, err := NewPipeline(nil, cfg.Stages(nil)...).Run(ctx, baseV7(), Params{Account: acct})
	require.NoError(t, err)
	req, err := out.Resolve(ctx)
	require.NoError(t, err)
	r := req.(*userop.RequestV7)
	assert.Equal(t, common.HexToAddress(paymaster), *r.Paymaster)
	assert.Equal(t, common.FromHex("0x0202"), []byte(*r.PaymasterData))
	assert.Equal(t, int64(0x7530), r.PaymasterVerificationGasLimit.ToInt().Int64())
	assert.Equal(t, int64(0x3e8), r.PaymasterPostOpGasLimit.ToInt().Int64())
}

func TestErc7677ServiceError(t *testing.T) {
	acct := newAccount(t, testutil.NewFakeChain(), userop.V06)
	svc, url := newPaymasterServer(t, nil)
	svc.errMsg = "policy rejected"
	pm := NewErc7677Middleware(url, nil, testutil.GetLogger())

	_, err := pm.DummyPaymasterAndData(context.Background(), baseV6(), Params{Account: acct}.normalized())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy rejected")
}
