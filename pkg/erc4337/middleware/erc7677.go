package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/deferred"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/pkg/logger"
)

// JSON-RPC envelope for paymaster services.
type jsonRPCRequest struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	Id      int           `json:"id"`
}

type jsonRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PaymasterResult is the answer of pm_getPaymasterStubData and
// pm_getPaymasterData. v0.6 services fill PaymasterAndData, v0.7 services
// the split fields.
type PaymasterResult struct {
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterData                 *hexutil.Bytes  `json:"paymasterData,omitempty"`
	PaymasterAndData              *hexutil.Bytes  `json:"paymasterAndData,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	IsFinal                       bool            `json:"isFinal,omitempty"`
}

// Erc7677Middleware sponsors operations through a paymaster service that
// implements ERC-7677. It provides both paymaster stages: the stub data
// used during gas estimation and the final signed data.
type Erc7677Middleware struct {
	url           string
	httpClient    *resty.Client
	policyContext map[string]interface{}
	logger        logger.Logger
}

// NewErc7677Middleware talks to the service at url. policyContext is sent as
// the fourth parameter of every request, merged with the per call context.
func NewErc7677Middleware(url string, policyContext map[string]interface{}, log logger.Logger) *Erc7677Middleware {
	client := resty.New().SetTimeout(30 * time.Second)
	client.SetHeader("Content-Type", "application/json")
	return &Erc7677Middleware{
		url:           url,
		httpClient:    client,
		policyContext: policyContext,
		logger:        logger.For(log, "erc7677"),
	}
}

// Apply installs both paymaster stages on cfg.
func (m *Erc7677Middleware) Apply(cfg Config) Config {
	cfg.DummyPaymasterAndData = m.DummyPaymasterAndData
	cfg.PaymasterAndData = m.PaymasterAndData
	return cfg
}

// DummyPaymasterAndData asks pm_getPaymasterStubData for placeholder data.
// Gas and fee fields are sent as zero since they are not known yet.
func (m *Erc7677Middleware) DummyPaymasterAndData(ctx context.Context, s userop.Struct, p Params) (userop.Struct, error) {
	probe := zeroGasFields(s, true, true)
	res, err := m.request(ctx, "pm_getPaymasterStubData", probe, p)
	if err != nil {
		return nil, err
	}
	return applyPaymasterResult(s, res, true), nil
}

// PaymasterAndData asks pm_getPaymasterData for the final sponsorship data
// of the fully estimated operation.
func (m *Erc7677Middleware) PaymasterAndData(ctx context.Context, s userop.Struct, p Params) (userop.Struct, error) {
	res, err := m.request(ctx, "pm_getPaymasterData", s, p)
	if err != nil {
		return nil, err
	}
	return applyPaymasterResult(s, res, false), nil
}

func (m *Erc7677Middleware) request(ctx context.Context, method string, s userop.Struct, p Params) (*PaymasterResult, error) {
	ep := p.Account.GetEntryPoint()
	if ep.ChainID == nil {
		return nil, aaerr.NewChainNotFoundError()
	}
	req, err := s.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	policy := map[string]interface{}{}
	for k, v := range m.policyContext {
		policy[k] = v
	}
	for k, v := range p.Context {
		policy[k] = v
	}

	rpcRequest := jsonRPCRequest{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  []interface{}{req, ep.Address, (*hexutil.Big)(ep.ChainID), policy},
		Id:      1,
	}

	var response jsonRPCResponse
	resp, err := m.httpClient.R().
		SetContext(ctx).
		SetBody(rpcRequest).
		SetResult(&response).
		Post(m.url)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s call failed: %d %s", method, resp.StatusCode(), resp.String())
	}
	if response.Error != nil {
		m.logger.Error("paymaster service rejected the operation", "method", method, "code", response.Error.Code, "message", response.Error.Message)
		return nil, fmt.Errorf("%s error: %s (code: %d)", method, response.Error.Message, response.Error.Code)
	}

	var result PaymasterResult
	if err := json.Unmarshal(response.Result, &result); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}
	m.logger.Debug("paymaster data received", "method", method, "isFinal", result.IsFinal)
	return &result, nil
}

// applyPaymasterResult copies the service answer onto a clone of s. The v0.7
// paymaster gas limits are only taken from stub data.
func applyPaymasterResult(s userop.Struct, res *PaymasterResult, stub bool) userop.Struct {
	out := s.Clone()
	switch st := out.(type) {
	case *userop.StructV6:
		pnd := []byte{}
		if res.PaymasterAndData != nil {
			pnd = *res.PaymasterAndData
		}
		st.PaymasterAndData = deferred.Of(pnd)
	case *userop.StructV7:
		if res.Paymaster != nil {
			st.Paymaster = deferred.Of(*res.Paymaster)
		}
		if res.PaymasterData != nil {
			st.PaymasterData = deferred.Of([]byte(*res.PaymasterData))
		}
		if stub && res.PaymasterVerificationGasLimit != nil {
			st.PaymasterVerificationGasLimit = deferred.Of(res.PaymasterVerificationGasLimit.ToInt())
		}
		if stub && res.PaymasterPostOpGasLimit != nil {
			st.PaymasterPostOpGasLimit = deferred.Of(res.PaymasterPostOpGasLimit.ToInt())
		}
	}
	return out
}
