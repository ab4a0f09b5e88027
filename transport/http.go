package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lanonasis/memory-client-go/auth"
	"github.com/lanonasis/memory-client-go/internal/conv"
	"github.com/viant/jsonrpc"
	"go.uber.org/zap"
)

// methodToolsCall is the only MCP method this layer interprets; everything
// else is forwarded as a raw envelope.
const methodToolsCall = "tools/call"

// toolEndpoints maps known memory-service tools onto their REST endpoints.
// Unknown tools fall back to /mcp/tools/{name}.
var toolEndpoints = map[string]string{
	"memory_create":  "/api/v1/memory",
	"memory_get":     "/api/v1/memory",
	"memory_list":    "/api/v1/memory",
	"memory_update":  "/api/v1/memory",
	"memory_delete":  "/api/v1/memory",
	"memory_search":  "/api/v1/memory/search",
	"apikey_create":  "/api/v1/api-keys",
	"apikey_list":    "/api/v1/api-keys",
	"apikey_delete":  "/api/v1/api-keys",
	"project_create": "/api/v1/projects",
	"project_list":   "/api/v1/projects",
}

// HTTPTransport maps MCP tool calls onto request/response REST calls. It is
// not real-time capable: server-initiated messages never arrive here.
type HTTPTransport struct {
	config  Config
	client  *http.Client
	emitter *emitter
	logger  *zap.Logger

	mux       sync.RWMutex
	connected bool
	lastPing  time.Time
	lastErr   error
	closed    bool
}

// NewHTTPTransport creates an HTTP transport from the config.
func NewHTTPTransport(config Config) (*HTTPTransport, error) {
	config.Kind = KindHTTP
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.logger().With(zap.String("transport", KindHTTP.String()))
	client := &http.Client{
		Timeout:   config.timeout(),
		Transport: auth.NewRoundTripper(config.Credentials, http.DefaultTransport),
	}
	return &HTTPTransport{
		config:  config,
		client:  client,
		emitter: newEmitter(logger),
		logger:  logger,
	}, nil
}

func (t *HTTPTransport) Kind() Kind            { return KindHTTP }
func (t *HTTPTransport) RealTimeCapable() bool { return false }

// Connect probes the service health endpoint derived from the base URL.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.mux.RLock()
	closed := t.closed
	t.mux.RUnlock()
	if closed {
		return &ConfigurationError{Field: "transport", Reason: "was closed"}
	}
	healthURL, err := healthEndpoint(t.config.URL)
	if err != nil {
		return &ConfigurationError{Field: "url", Reason: err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return &ConfigurationError{Field: "url", Reason: err.Error()}
	}
	t.applyHeaders(req)
	resp, err := t.client.Do(req)
	if err != nil {
		wrapped := classify(KindHTTP, "connect", err)
		t.fail(wrapped)
		return wrapped
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		protoErr := &ProtocolError{Kind: KindHTTP, StatusCode: resp.StatusCode, Message: "health probe failed"}
		t.setError(protoErr)
		return protoErr
	}
	t.mux.Lock()
	t.connected = true
	t.lastPing = time.Now()
	t.lastErr = nil
	t.mux.Unlock()
	t.logger.Debug("connected", zap.String("url", healthURL))
	t.emitter.emit(EventConnected, nil)
	return nil
}

// Disconnect marks the channel disconnected; there is no socket to tear down.
func (t *HTTPTransport) Disconnect(_ context.Context) error {
	t.mux.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mux.Unlock()
	if wasConnected {
		t.emitter.emit(EventDisconnected, nil)
	}
	return nil
}

// Send maps the request onto a REST call. A tools/call envelope is routed
// through the tool endpoint table; any other method is forwarded verbatim to
// the /mcp endpoint.
func (t *HTTPTransport) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	if request == nil {
		return nil, &ConfigurationError{Field: "request", Reason: "was nil"}
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.timeout())
	defer cancel()

	httpReq, err := t.buildRequest(ctx, request)
	if err != nil {
		return nil, err
	}
	t.applyHeaders(httpReq)
	resp, err := t.client.Do(httpReq)
	if err != nil {
		wrapped := classify(KindHTTP, "send", err)
		t.fail(wrapped)
		return nil, wrapped
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		wrapped := classify(KindHTTP, "read response", err)
		t.fail(wrapped)
		return nil, wrapped
	}
	if resp.StatusCode >= http.StatusBadRequest {
		protoErr := &ProtocolError{Kind: KindHTTP, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		t.setError(protoErr)
		return nil, protoErr
	}
	t.mux.Lock()
	t.lastPing = time.Now()
	t.mux.Unlock()
	return buildResponse(request, body)
}

// buildRequest translates the envelope into a concrete HTTP request.
func (t *HTTPTransport) buildRequest(ctx context.Context, request *jsonrpc.Request) (*http.Request, error) {
	base := strings.TrimRight(t.config.URL, "/")
	if request.Method != methodToolsCall {
		data, err := json.Marshal(request)
		if err != nil {
			return nil, &ProtocolError{Kind: KindHTTP, Message: fmt.Sprintf("failed to marshal request: %v", err), Err: err}
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/mcp", bytes.NewReader(data))
		if err != nil {
			return nil, &ConfigurationError{Field: "url", Reason: err.Error()}
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}

	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			return nil, &ProtocolError{Kind: KindHTTP, Message: fmt.Sprintf("malformed tools/call params: %v", err), Err: err}
		}
	}
	if params.Name == "" {
		return nil, &ConfigurationError{Field: "params.name", Reason: "was empty"}
	}

	endpoint, ok := toolEndpoints[params.Name]
	if !ok {
		endpoint = "/mcp/tools/" + params.Name
	}
	verb := verbForTool(params.Name)

	if verb == http.MethodGet {
		httpReq, err := http.NewRequestWithContext(ctx, verb, base+endpoint, nil)
		if err != nil {
			return nil, &ConfigurationError{Field: "url", Reason: err.Error()}
		}
		httpReq.URL.RawQuery = encodeQuery(params.Arguments)
		return httpReq, nil
	}

	body, err := json.Marshal(params.Arguments)
	if err != nil {
		return nil, &ProtocolError{Kind: KindHTTP, Message: fmt.Sprintf("failed to marshal arguments: %v", err), Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, verb, base+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ConfigurationError{Field: "url", Reason: err.Error()}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (t *HTTPTransport) applyHeaders(req *http.Request) {
	for name, value := range t.config.Headers {
		req.Header.Set(name, value)
	}
}

func (t *HTTPTransport) IsConnected() bool {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return t.connected
}

func (t *HTTPTransport) Status() Status {
	t.mux.RLock()
	defer t.mux.RUnlock()
	status := Status{
		Connected: t.connected,
		Kind:      KindHTTP,
		KindName:  KindHTTP.String(),
		URL:       t.config.URL,
		LastPing:  t.lastPing,
	}
	if t.lastErr != nil {
		status.LastError = t.lastErr.Error()
	}
	return status
}

func (t *HTTPTransport) On(event Event, handler Handler) Subscription {
	return t.emitter.on(event, handler)
}

func (t *HTTPTransport) Off(subscription Subscription) {
	t.emitter.off(subscription)
}

// Close is idempotent.
func (t *HTTPTransport) Close() error {
	t.mux.Lock()
	if t.closed {
		t.mux.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	t.mux.Unlock()
	t.client.CloseIdleConnections()
	return nil
}

// fail routes a classified transport error: network-class failures flip the
// connection state, protocol-class ones only record the error.
func (t *HTTPTransport) fail(err error) {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		t.recordFailure(connErr)
		return
	}
	t.setError(err)
}

// recordFailure flips connection state on network-class failures only.
func (t *HTTPTransport) recordFailure(err *ConnectionError) {
	t.mux.Lock()
	wasConnected := t.connected
	t.connected = false
	t.lastErr = err
	t.mux.Unlock()
	t.logger.Debug("network failure", zap.String("op", err.Op), zap.Error(err.Err))
	t.emitter.emit(EventError, err)
	if wasConnected {
		t.emitter.emit(EventDisconnected, err)
	}
}

// setError records a protocol error without flipping connection state.
func (t *HTTPTransport) setError(err error) {
	t.mux.Lock()
	t.lastErr = err
	t.mux.Unlock()
}

// verbForTool infers the HTTP verb from the tool name's trailing action
// segment: create -> POST, update -> PUT, delete -> DELETE, search -> POST,
// anything else -> GET.
func verbForTool(name string) string {
	segments := strings.Split(name, "_")
	switch segments[len(segments)-1] {
	case "create":
		return http.MethodPost
	case "update":
		return http.MethodPut
	case "delete":
		return http.MethodDelete
	case "search":
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

// encodeQuery flattens tool arguments into a query string for GET requests.
func encodeQuery(arguments map[string]interface{}) string {
	if len(arguments) == 0 {
		return ""
	}
	values := url.Values{}
	for key, value := range arguments {
		switch actual := value.(type) {
		case string:
			values.Set(key, actual)
		case nil:
		default:
			data, err := json.Marshal(actual)
			if err != nil {
				continue
			}
			values.Set(key, strings.Trim(string(data), `"`))
		}
	}
	return values.Encode()
}

// healthEndpoint derives the normalized health probe path from the base URL.
func healthEndpoint(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("base URL %q missing scheme or host", base)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/health"
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// buildResponse wraps a REST payload back into a jsonrpc response. A body that
// already is a jsonrpc envelope passes through; anything else becomes Result.
func buildResponse(request *jsonrpc.Request, body []byte) (*jsonrpc.Response, error) {
	id := conv.AsUint64(request.Id)
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		trimmed = []byte("null")
	}
	if !json.Valid(trimmed) {
		return nil, &ProtocolError{Kind: KindHTTP, Message: "malformed response body"}
	}
	var envelope struct {
		Jsonrpc string          `json:"jsonrpc"`
		Result  json.RawMessage `json:"result"`
		Error   *jsonrpc.Error  `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err == nil && envelope.Jsonrpc != "" {
		return &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: id, Result: envelope.Result, Error: envelope.Error}, nil
	}
	return &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: id, Result: trimmed}, nil
}
