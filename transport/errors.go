package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ConnectionError marks network-class failures (refused, timeout, DNS, abort).
// These feed the Manager's failure tracking and may trigger fallback.
type ConnectionError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%v %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError marks failures the endpoint produced deliberately (HTTP
// 4xx/5xx, malformed payloads). It is returned to the caller without touching
// connection state or health bookkeeping.
type ProtocolError struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v protocol error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v protocol error: %s", e.Kind, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigurationError marks an invalid or missing config field. It is fatal to
// the specific call and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// IsConnectionError reports whether err is (or wraps) a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// connectionClass reports whether err carries a network-class signature.
// Anything else is treated as a protocol-level failure.
func connectionClass(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, signature := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"unexpected eof",
		"request canceled",
		"abort",
	} {
		if strings.Contains(msg, signature) {
			return true
		}
	}
	return false
}

// classify wraps err into the taxonomy for the given kind and operation.
func classify(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if connectionClass(err) {
		return &ConnectionError{Kind: kind, Op: op, Err: err}
	}
	return &ProtocolError{Kind: kind, Message: err.Error(), Err: err}
}
