package rlms

import (
	"errors"
	"fmt"
)

// Error codes surfaced in the result record.
const (
	CodeInvalidConfig         = "invalid_config"
	CodeMissingRootCommand    = "missing_root_command"
	CodeLimitExceeded         = "limit_exceeded"
	CodeSandboxViolation      = "sandbox_violation"
	CodeModelInvocationFailed = "model_invocation_failed"
	CodeWorkerFailure         = "worker_failure"
)

// LimitError reports an exhausted step, subcall, depth, or wall-clock
// budget. Terminal; exit code 2.
type LimitError struct {
	Reason string
}

func (e *LimitError) Error() string { return e.Reason }

// Limitf builds a LimitError.
func Limitf(format string, args ...any) *LimitError {
	return &LimitError{Reason: fmt.Sprintf(format, args...)}
}

// SandboxViolation reports model-emitted code rejected by the validator
// or a helper called with illegal arguments. Terminal; exit code 1.
type SandboxViolation struct {
	Reason string
}

func (e *SandboxViolation) Error() string { return e.Reason }

// Violationf builds a SandboxViolation.
func Violationf(format string, args ...any) *SandboxViolation {
	return &SandboxViolation{Reason: fmt.Sprintf(format, args...)}
}

// ModelInvocationError reports a failed root or subcall CLI invocation:
// non-zero exit, timeout, or command not found. Terminal; exit code 1.
type ModelInvocationError struct {
	Reason string
}

func (e *ModelInvocationError) Error() string { return e.Reason }

// Invocationf builds a ModelInvocationError.
func Invocationf(format string, args ...any) *ModelInvocationError {
	return &ModelInvocationError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports an invalid configuration surface. Terminal; exit
// code 2.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return e.Reason }

// Configf builds a ConfigError.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// Classify maps a worker error to its error code and process exit code.
func Classify(err error) (code string, exit int) {
	var limit *LimitError
	var sandbox *SandboxViolation
	var invocation *ModelInvocationError
	var config *ConfigError
	switch {
	case errors.As(err, &limit):
		return CodeLimitExceeded, 2
	case errors.As(err, &sandbox):
		return CodeSandboxViolation, 1
	case errors.As(err, &invocation):
		return CodeModelInvocationFailed, 1
	case errors.As(err, &config):
		return CodeInvalidConfig, 2
	default:
		return CodeWorkerFailure, 1
	}
}
