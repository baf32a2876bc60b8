package aaerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorsMatchSentinelByCode(t *testing.T) {
	err := fmt.Errorf("sending: %w", NewTransactionMissingToParamError())

	assert.True(t, errors.Is(err, ErrTransactionMissingTo))
	assert.False(t, errors.Is(err, ErrInvalidUserOperation))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, CodeTransactionMissingTo, CodeOf(err))
}

func TestKindsAreDistinguishable(t *testing.T) {
	cases := map[Kind]error{
		KindConfiguration: NewChainNotFoundError(),
		KindValidation:    NewMismatchingEntryPointError("0.7.0"),
		KindCapability:    NewUpgradesNotSupportedError("LightAccount"),
		KindNetwork:       NewGetCounterFactualAddressError(errors.New("boom")),
		KindTimeout:       NewFailedToFindTransactionError("0xabc", 5),
	}
	for kind, err := range cases {
		assert.Equal(t, kind, KindOf(err), "kind %s", kind)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewInvalidRpcUrlError("ftp://localhost", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "InvalidRpcUrlError")
	assert.Equal(t, "ftp://localhost", err.Details["url"])
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, "unknown", Kind(0).String())
}
