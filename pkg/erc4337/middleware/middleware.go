// Package middleware fills in the gas, fee and paymaster fields of a user
// operation through an ordered list of stages. Each stage takes the deferred
// struct produced by the previous one and returns a new struct; the list is
// applied as a left fold so later stages observe every earlier result.
package middleware

import (
	"context"
	"fmt"

	"github.com/AvaProtocol/ap-aa/core/chainio/aa"
	"github.com/AvaProtocol/ap-aa/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-aa/pkg/logger"
)

// Params is the per call context every stage receives.
type Params struct {
	Account    aa.SmartContractAccount
	Overrides  *userop.Overrides
	FeeOptions *userop.FeeOptions
	// Context is handed to paymaster services that accept one, such as the
	// ERC-7677 policy context.
	Context map[string]interface{}
}

func (p Params) normalized() Params {
	if p.Overrides == nil {
		p.Overrides = &userop.Overrides{}
	}
	if p.FeeOptions == nil {
		p.FeeOptions = &userop.FeeOptions{}
	}
	return p
}

// Func is one stage transform. It must not mutate its input.
type Func func(ctx context.Context, s userop.Struct, p Params) (userop.Struct, error)

type StageName string

const (
	StageDummyPaymasterAndData  StageName = "dummyPaymasterAndData"
	StageFeeEstimator           StageName = "feeEstimator"
	StageGasEstimator           StageName = "gasEstimator"
	StageCustomMiddleware       StageName = "customMiddleware"
	StagePaymasterAndData       StageName = "paymasterAndData"
	StageUserOperationSimulator StageName = "userOperationSimulator"
)

type Stage struct {
	Name StageName
	Fn   Func
}

// Noop returns its input unchanged.
func Noop(_ context.Context, s userop.Struct, _ Params) (userop.Struct, error) {
	return s, nil
}

// Config holds the stage implementations of a client. Nil entries fall back
// to the defaults of DefaultConfig.
type Config struct {
	DummyPaymasterAndData  Func
	FeeEstimator           Func
	GasEstimator           Func
	CustomMiddleware       Func
	PaymasterAndData       Func
	UserOperationSimulator Func
}

func orDefault(fn, def Func) Func {
	if fn != nil {
		return fn
	}
	return def
}

// Stages returns the ordered stage list for one call. When overrides force a
// paymaster bypass, OverridePaymasterData takes the place of both paymaster
// stages.
func (c Config) Stages(overrides *userop.Overrides) []Stage {
	dummy := orDefault(c.DummyPaymasterAndData, DefaultPaymasterAndData)
	paymaster := orDefault(c.PaymasterAndData, DefaultPaymasterAndData)
	if overrides.BypassPaymaster() {
		dummy, paymaster = OverridePaymasterData, OverridePaymasterData
	}
	return []Stage{
		{Name: StageDummyPaymasterAndData, Fn: dummy},
		{Name: StageFeeEstimator, Fn: orDefault(c.FeeEstimator, Noop)},
		{Name: StageGasEstimator, Fn: orDefault(c.GasEstimator, Noop)},
		{Name: StageCustomMiddleware, Fn: orDefault(c.CustomMiddleware, Noop)},
		{Name: StagePaymasterAndData, Fn: paymaster},
		{Name: StageUserOperationSimulator, Fn: orDefault(c.UserOperationSimulator, Noop)},
	}
}

// Stage returns the implementation of a single named stage, honouring the
// same paymaster bypass as Stages.
func (c Config) Stage(name StageName, overrides *userop.Overrides) Func {
	for _, st := range c.Stages(overrides) {
		if st.Name == name {
			return st.Fn
		}
	}
	return Noop
}

type Pipeline struct {
	stages []Stage
	logger logger.Logger
}

func NewPipeline(log logger.Logger, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: logger.For(log, "middleware")}
}

// Stages returns a copy of the stage list in execution order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Run folds the stages over s from left to right. The first failing stage
// aborts the run.
func (p *Pipeline) Run(ctx context.Context, s userop.Struct, params Params) (userop.Struct, error) {
	params = params.normalized()
	if params.Account == nil {
		return nil, fmt.Errorf("middleware needs an account")
	}
	if err := params.Account.GetEntryPoint().CheckStruct(s); err != nil {
		return nil, err
	}
	if err := params.Account.GetEntryPoint().CheckOverrides(params.Overrides); err != nil {
		return nil, err
	}

	var err error
	for _, st := range p.stages {
		p.logger.Debug("running middleware", "stage", string(st.Name))
		if s, err = st.Fn(ctx, s, params); err != nil {
			return nil, fmt.Errorf("middleware %s: %w", st.Name, err)
		}
	}
	return s, nil
}
