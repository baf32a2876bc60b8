package logger

import (
	"testing"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLoggerIsSilent(t *testing.T) {
	for _, l := range []Logger{EnsureLogger(nil), For(nil, "history")} {
		require.NotNil(t, l)
		assert.NotPanics(t, func() {
			l.Info("hello", "k", 1)
			l.With("a", "b").With("component", "x").Debug("nested")
			l.Warnf("%d left", 3)
		})
	}
}

func TestNewDefaultsToDevelopment(t *testing.T) {
	l, err := New("")
	require.NoError(t, err)
	assert.Same(t, l, EnsureLogger(l))
	assert.NotNil(t, For(l, "bundler"))

	_, err = New(sdklogging.Production)
	assert.NoError(t, err)
}
