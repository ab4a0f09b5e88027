// Package transport keeps a client reliably talking to an MCP-capable
// endpoint. It provides the two concrete channels (WebSocket and HTTP) behind
// one contract, plus a Manager that executes the fallback chain, tracks
// failures in a sliding window and recovers back to the preferred channel.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/lanonasis/memory-client-go/auth"
	"github.com/viant/jsonrpc"
	"go.uber.org/zap"
)

// Kind identifies a concrete transport channel. The set is closed: adding a
// channel means adding a variant here and a case in New.
type Kind int

const (
	KindUnknown Kind = iota
	KindWebSocket
	KindHTTP
)

// String returns the wire/config name of the kind.
func (k Kind) String() string {
	switch k {
	case KindWebSocket:
		return "websocket"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// ParseKind maps a config string onto a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "websocket", "ws":
		return KindWebSocket, nil
	case "http", "https":
		return KindHTTP, nil
	default:
		return KindUnknown, &ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unsupported transport kind %q", name)}
	}
}

// ReconnectPolicy bounds a transport's internal reconnect attempts. It is
// independent of the Manager's fallback between kinds.
type ReconnectPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts" json:"maxAttempts"`
	MinBackoff  time.Duration `yaml:"minBackoff" json:"minBackoff"`
	MaxBackoff  time.Duration `yaml:"maxBackoff" json:"maxBackoff"`
}

// Config describes one transport channel. It is immutable once a Transport
// has been constructed from it.
type Config struct {
	Kind        Kind
	URL         string
	Headers     map[string]string
	Credentials auth.Store
	Reconnect   ReconnectPolicy
	Timeout     time.Duration
	Logger      *zap.Logger
}

const defaultTimeout = 30 * time.Second

func (c *Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return defaultTimeout
}

func (c *Config) logger() *zap.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return zap.NewNop()
}

// Validate checks the config before a Transport is built from it.
func (c *Config) Validate() error {
	if c.URL == "" {
		return &ConfigurationError{Field: "url", Reason: "was empty"}
	}
	if c.Kind != KindWebSocket && c.Kind != KindHTTP {
		return &ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unsupported transport kind %v", c.Kind)}
	}
	if c.Timeout < 0 {
		return &ConfigurationError{Field: "timeout", Reason: "must not be negative"}
	}
	return nil
}

// Status is an on-demand snapshot of one transport channel.
type Status struct {
	Connected         bool      `json:"connected"`
	Kind              Kind      `json:"-"`
	KindName          string    `json:"kind"`
	URL               string    `json:"url"`
	LastPing          time.Time `json:"lastPing,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

// Transport is the common connect/send/disconnect contract both channels
// implement. Send treats MCP payloads as opaque jsonrpc envelopes.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error)
	IsConnected() bool
	Kind() Kind
	Status() Status
	On(event Event, handler Handler) Subscription
	Off(subscription Subscription)
	RealTimeCapable() bool
	Close() error
}
