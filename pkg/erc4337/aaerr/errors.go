// Package aaerr holds the error kinds raised by the account abstraction
// client. Every error carries a stable Code so callers can branch on it with
// errors.Is, and a Kind for coarse grained handling.
package aaerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindValidation
	KindCapability
	KindNetwork
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	case KindCapability:
		return "capability"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	}
	return "unknown"
}

type Code string

const (
	CodeAccountNotFound             Code = "AccountNotFoundError"
	CodeChainNotFound               Code = "ChainNotFoundError"
	CodeIncompatibleClient          Code = "IncompatibleClientError"
	CodeInvalidUserOperation        Code = "InvalidUserOperationError"
	CodeMismatchingEntryPoint       Code = "MismatchingEntryPointError"
	CodeInvalidEntryPoint           Code = "InvalidEntryPointError"
	CodeBatchExecutionNotSupported  Code = "BatchExecutionNotSupportedError"
	CodeUpgradesNotSupported        Code = "UpgradesNotSupportedError"
	CodeSignTransactionNotSupported Code = "SignTransactionNotSupportedError"
	CodeFailedToGetStorageSlot      Code = "FailedToGetStorageSlotError"
	CodeGetCounterFactualAddress    Code = "GetCounterFactualAddressError"
	CodeInvalidRpcUrl               Code = "InvalidRpcUrlError"
	CodeTransactionMissingTo        Code = "TransactionMissingToParamError"
	CodeFailedToFindTransaction     Code = "FailedToFindTransactionError"
	CodeAccountRequiresOwner        Code = "AccountRequiresOwnerError"
)

var codeKinds = map[Code]Kind{
	CodeAccountNotFound:             KindConfiguration,
	CodeChainNotFound:               KindConfiguration,
	CodeIncompatibleClient:          KindConfiguration,
	CodeInvalidEntryPoint:           KindConfiguration,
	CodeAccountRequiresOwner:        KindConfiguration,
	CodeInvalidUserOperation:        KindValidation,
	CodeMismatchingEntryPoint:       KindValidation,
	CodeTransactionMissingTo:        KindValidation,
	CodeBatchExecutionNotSupported:  KindCapability,
	CodeUpgradesNotSupported:        KindCapability,
	CodeSignTransactionNotSupported: KindCapability,
	CodeFailedToGetStorageSlot:      KindNetwork,
	CodeGetCounterFactualAddress:    KindNetwork,
	CodeInvalidRpcUrl:               KindNetwork,
	CodeFailedToFindTransaction:     KindTimeout,
}

// Error is the structured error returned by every component of the client.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Kind reports the coarse category of the error code.
func (e *Error) Kind() Kind { return codeKinds[e.Code] }

// Is matches any *Error carrying the same Code, which lets the sentinel
// values below be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates a structured error.
func New(code Code, message string, details ...map[string]interface{}) *Error {
	var detailsMap map[string]interface{}
	if len(details) > 0 {
		detailsMap = details[0]
	}
	return &Error{Code: code, Message: message, Details: detailsMap}
}

// Wrap creates a structured error with an underlying cause.
func Wrap(code Code, cause error, message string, details ...map[string]interface{}) *Error {
	e := New(code, message, details...)
	e.Cause = cause
	return e
}

// KindOf returns the kind of the first structured error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return 0
}

// CodeOf returns the code of the first structured error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrAccountNotFound             = New(CodeAccountNotFound, "account not found")
	ErrChainNotFound               = New(CodeChainNotFound, "chain not found")
	ErrIncompatibleClient          = New(CodeIncompatibleClient, "incompatible client")
	ErrInvalidUserOperation        = New(CodeInvalidUserOperation, "invalid user operation")
	ErrMismatchingEntryPoint       = New(CodeMismatchingEntryPoint, "mismatching entry point")
	ErrInvalidEntryPoint           = New(CodeInvalidEntryPoint, "invalid entry point")
	ErrBatchExecutionNotSupported  = New(CodeBatchExecutionNotSupported, "batch execution not supported")
	ErrUpgradesNotSupported        = New(CodeUpgradesNotSupported, "upgrades not supported")
	ErrSignTransactionNotSupported = New(CodeSignTransactionNotSupported, "sign transaction not supported")
	ErrFailedToGetStorageSlot      = New(CodeFailedToGetStorageSlot, "failed to get storage slot")
	ErrGetCounterFactualAddress    = New(CodeGetCounterFactualAddress, "failed to get counterfactual address")
	ErrInvalidRpcUrl               = New(CodeInvalidRpcUrl, "invalid rpc url")
	ErrTransactionMissingTo        = New(CodeTransactionMissingTo, "transaction is missing to address")
	ErrFailedToFindTransaction     = New(CodeFailedToFindTransaction, "failed to find transaction for user operation")
	ErrAccountRequiresOwner        = New(CodeAccountRequiresOwner, "account requires an owner")
)

func NewAccountNotFoundError() *Error {
	return New(CodeAccountNotFound, "could not find an account to execute with; pass one in or hoist it to the client")
}

func NewChainNotFoundError() *Error {
	return New(CodeChainNotFound, "no chain supplied to the client")
}

func NewIncompatibleClientError(expected, method string) *Error {
	return New(CodeIncompatibleClient,
		fmt.Sprintf("client of type %s is required to call %s", expected, method),
		map[string]interface{}{"expected": expected, "method": method})
}

func NewInvalidUserOperationError(reason string, details map[string]interface{}) *Error {
	return New(CodeInvalidUserOperation, fmt.Sprintf("request is not a valid user operation: %s", reason), details)
}

func NewMismatchingEntryPointError(expected string) *Error {
	return New(CodeMismatchingEntryPoint,
		fmt.Sprintf("user operation shape does not match entry point version %s", expected),
		map[string]interface{}{"version": expected})
}

func NewInvalidEntryPointError(chainID uint64, version string) *Error {
	return New(CodeInvalidEntryPoint,
		fmt.Sprintf("invalid entry point: unexpected version %s for chain %d", version, chainID),
		map[string]interface{}{"chainId": chainID, "version": version})
}

func NewBatchExecutionNotSupportedError(accountType string) *Error {
	return New(CodeBatchExecutionNotSupported,
		fmt.Sprintf("account of type %s does not support batch execution", accountType),
		map[string]interface{}{"accountType": accountType})
}

func NewUpgradesNotSupportedError(accountType string) *Error {
	return New(CodeUpgradesNotSupported,
		fmt.Sprintf("account of type %s does not support upgrades", accountType),
		map[string]interface{}{"accountType": accountType})
}

func NewSignTransactionNotSupportedError() *Error {
	return New(CodeSignTransactionNotSupported, "sign transaction is not supported by smart accounts")
}

func NewFailedToGetStorageSlotError(slot, slotDescriptor string) *Error {
	return New(CodeFailedToGetStorageSlot,
		fmt.Sprintf("failed to get storage slot %s (%s)", slot, slotDescriptor),
		map[string]interface{}{"slot": slot, "descriptor": slotDescriptor})
}

func NewGetCounterFactualAddressError(cause error) *Error {
	return Wrap(CodeGetCounterFactualAddress, cause, "getCounterFactualAddress failed")
}

func NewInvalidRpcUrlError(rpcURL string, cause error) *Error {
	return Wrap(CodeInvalidRpcUrl, cause, fmt.Sprintf("invalid rpc url %q", rpcURL),
		map[string]interface{}{"url": rpcURL})
}

func NewTransactionMissingToParamError() *Error {
	return New(CodeTransactionMissingTo, "one or more transactions are missing the to param")
}

func NewFailedToFindTransactionError(hash string, attempts int) *Error {
	return New(CodeFailedToFindTransaction,
		fmt.Sprintf("failed to find transaction for user operation %s after %d attempts", hash, attempts),
		map[string]interface{}{"hash": hash, "attempts": attempts})
}

func NewAccountRequiresOwnerError(accountType string) *Error {
	return New(CodeAccountRequiresOwner,
		fmt.Sprintf("%s requires an owner to execute", accountType),
		map[string]interface{}{"accountType": accountType})
}
