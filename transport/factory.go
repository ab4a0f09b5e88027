package transport

import "fmt"

// New constructs the concrete transport for config.Kind. The switch is the
// single place a new Kind variant must be handled.
func New(config Config) (Transport, error) {
	switch config.Kind {
	case KindWebSocket:
		return NewWebSocketTransport(config)
	case KindHTTP:
		return NewHTTPTransport(config)
	default:
		return nil, &ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unsupported transport kind %v", config.Kind)}
	}
}
