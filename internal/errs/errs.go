// Package errs defines the error kinds shared across the trading pipeline
// and the classification helpers that drive retry and skip decisions.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors. Components wrap these with fmt.Errorf("...: %w", ...) so
// callers can classify with errors.Is without parsing messages.
var (
	ErrConfig              = errors.New("config error")
	ErrBudgetExhausted     = errors.New("rpc budget exhausted")
	ErrRPC                 = errors.New("rpc error")
	ErrAggregator          = errors.New("aggregator error")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrValidationFailed    = errors.New("validation failed")
	ErrRiskBlocked         = errors.New("risk blocked")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrRateLimited         = errors.New("rate limited")
	ErrNetworkTransient    = errors.New("network transient")
)

// Configf wraps ErrConfig with a formatted message.
func Configf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrConfig}, args...)...)
}

// Aggregatorf wraps ErrAggregator with a formatted message.
func Aggregatorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrAggregator}, args...)...)
}

// RPCf wraps ErrRPC with a formatted message.
func RPCf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrRPC}, args...)...)
}

// IsRetryable reports whether the error is worth another attempt with
// backoff. Rate limits and transient network failures qualify; validation,
// risk, and balance failures never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrNetworkTransient) {
		return true
	}
	if errors.Is(err, ErrValidationFailed) || errors.Is(err, ErrRiskBlocked) ||
		errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, ErrConfig) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return hasRetryableText(err)
}

// IsFatal reports whether the error must abort startup.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfig) || errors.Is(err, ErrInsufficientBalance)
}

// IsSkip reports whether a candidate evaluation should be abandoned for this
// token while the scan loop continues.
func IsSkip(err error) bool {
	return errors.Is(err, ErrBudgetExhausted) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrAggregator) ||
		errors.Is(err, ErrNetworkTransient) ||
		errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrRiskBlocked)
}

// Classify maps raw transport failures onto the taxonomy. Errors already
// carrying a sentinel pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		ErrConfig, ErrBudgetExhausted, ErrRPC, ErrAggregator, ErrPriceUnavailable,
		ErrValidationFailed, ErrRiskBlocked, ErrInsufficientBalance, ErrRateLimited,
		ErrNetworkTransient,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit"):
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case hasRetryableText(err):
		return fmt.Errorf("%w: %v", ErrNetworkTransient, err)
	default:
		return err
	}
}

func hasRetryableText(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"timeout", "deadline", "connection refused", "connection reset",
		"no such host", "temporary", "unavailable", "eof", "broken pipe",
		"502", "503", "504",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
