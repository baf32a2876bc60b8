// Package logger hands out the eigensdk logger to every component. A nil
// logger is always allowed and means silence.
package logger

import (
	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

type Logger = sdklogging.Logger

// New builds the zap logger for env, development when env is empty.
func New(env sdklogging.LogLevel) (Logger, error) {
	if env == "" {
		env = sdklogging.Development
	}
	return sdklogging.NewZapLogger(env)
}

// For returns log tagged with component, or a no-op logger when log is nil.
func For(log Logger, component string) Logger {
	if log == nil {
		return Nop()
	}
	return log.With("component", component)
}

// EnsureLogger returns log, or a no-op logger when log is nil.
func EnsureLogger(log Logger) Logger {
	if log == nil {
		return Nop()
	}
	return log
}

func Nop() Logger { return nop{} }

type nop struct{}

func (nop) Info(string, ...any)           {}
func (nop) Infof(string, ...interface{})  {}
func (nop) Debug(string, ...any)          {}
func (nop) Debugf(string, ...interface{}) {}
func (nop) Error(string, ...any)          {}
func (nop) Errorf(string, ...interface{}) {}
func (nop) Warn(string, ...any)           {}
func (nop) Warnf(string, ...interface{})  {}
func (nop) Fatal(string, ...any)          {}
func (nop) Fatalf(string, ...interface{}) {}
func (n nop) With(...any) Logger          { return n }
