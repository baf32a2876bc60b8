package userop

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ap-aa/pkg/erc4337/aaerr"
)

func positive(v *hexutil.Big) bool {
	return v != nil && v.ToInt().Sign() > 0
}

func allEqual(vals ...bool) bool {
	for _, v := range vals[1:] {
		if v != vals[0] {
			return false
		}
	}
	return true
}

// Validate checks that a request is safe to sign and submit: every gas and
// fee field is set, the four gas limits and the max fee are strictly
// positive, and the factory and paymaster field groups are all present or
// all absent.
func Validate(r Request) error {
	switch req := r.(type) {
	case *RequestV6:
		if reason, bad := checkGas(req.CallGasLimit, req.MaxFeePerGas, req.PreVerificationGas, req.VerificationGasLimit, req.MaxPriorityFeePerGas); bad {
			return aaerr.NewInvalidUserOperationError(reason, map[string]interface{}{"version": string(V06)})
		}
		if req.InitCode == nil {
			return aaerr.NewInvalidUserOperationError("initCode is missing", map[string]interface{}{"version": string(V06)})
		}
		if req.PaymasterAndData == nil {
			return aaerr.NewInvalidUserOperationError("paymasterAndData is missing", map[string]interface{}{"version": string(V06)})
		}
		return nil
	case *RequestV7:
		if reason, bad := checkGas(req.CallGasLimit, req.MaxFeePerGas, req.PreVerificationGas, req.VerificationGasLimit, req.MaxPriorityFeePerGas); bad {
			return aaerr.NewInvalidUserOperationError(reason, map[string]interface{}{"version": string(V07)})
		}
		if !allEqual(req.Factory == nil, req.FactoryData == nil) {
			return aaerr.NewInvalidUserOperationError("factory and factoryData must be set together", map[string]interface{}{"version": string(V07)})
		}
		if !allEqual(req.Paymaster == nil, req.PaymasterData == nil, req.PaymasterVerificationGasLimit == nil, req.PaymasterPostOpGasLimit == nil) {
			return aaerr.NewInvalidUserOperationError("paymaster fields must be set together", map[string]interface{}{"version": string(V07)})
		}
		return nil
	}
	return aaerr.NewInvalidUserOperationError("unknown request type", nil)
}

// IsValid reports whether Validate accepts r.
func IsValid(r Request) bool {
	return Validate(r) == nil
}

func checkGas(callGasLimit, maxFeePerGas, preVerificationGas, verificationGasLimit, maxPriorityFeePerGas *hexutil.Big) (string, bool) {
	switch {
	case !positive(callGasLimit):
		return "callGasLimit must be positive", true
	case !positive(maxFeePerGas):
		return "maxFeePerGas must be positive", true
	case !positive(preVerificationGas):
		return "preVerificationGas must be positive", true
	case !positive(verificationGasLimit):
		return "verificationGasLimit must be positive", true
	case maxPriorityFeePerGas == nil:
		return "maxPriorityFeePerGas is missing", true
	}
	return "", false
}
