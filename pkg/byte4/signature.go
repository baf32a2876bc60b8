// Package byte4 turns call data back into a readable method call using the
// 4-byte selector.
package byte4

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// GetMethodFromCalldata returns the first method of abis whose selector
// matches the first four bytes of calldata.
func GetMethodFromCalldata(calldata []byte, abis ...abi.ABI) (*abi.Method, error) {
	if len(calldata) < 4 {
		return nil, fmt.Errorf("invalid selector length: %d", len(calldata))
	}
	for _, parsed := range abis {
		if method, err := parsed.MethodById(calldata[:4]); err == nil {
			return method, nil
		}
	}
	return nil, fmt.Errorf("no matching method found for selector: 0x%x", calldata[:4])
}

// Describe renders calldata as name(arg=value, ...). Arguments that do not
// decode are left out and the raw selector is kept in the name.
func Describe(calldata []byte, abis ...abi.ABI) (string, error) {
	method, err := GetMethodFromCalldata(calldata, abis...)
	if err != nil {
		return "", err
	}
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return fmt.Sprintf("%s(0x%x)", method.Sig, calldata[:4]), nil
	}

	args := make([]string, len(values))
	for i, v := range values {
		args[i] = method.Inputs[i].Name + "=" + formatValue(v)
	}
	return fmt.Sprintf("%s(%s)", method.Name, strings.Join(args, ", ")), nil
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case common.Address:
		return x.Hex()
	case *big.Int:
		return x.String()
	case []byte:
		return hexutil.Encode(x)
	case []common.Address:
		parts := make([]string, len(x))
		for i, a := range x {
			parts[i] = a.Hex()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case []*big.Int:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = n.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	case [][]byte:
		parts := make([]string, len(x))
		for i, b := range x {
			parts[i] = hexutil.Encode(b)
		}
		return "[" + strings.Join(parts, " ") + "]"
	}
	return fmt.Sprint(v)
}
