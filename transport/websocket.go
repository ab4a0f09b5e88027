package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lanonasis/memory-client-go/internal/collection"
	"github.com/lanonasis/memory-client-go/internal/conv"
	"github.com/viant/jsonrpc"
	"go.uber.org/zap"
)

const (
	defaultPingInterval        = 25 * time.Second
	defaultPongWait            = 60 * time.Second
	defaultReconnectAttempts   = 5
	defaultReconnectMinBackoff = 500 * time.Millisecond
	defaultReconnectMaxBackoff = 30 * time.Second
	writeWait                  = 10 * time.Second
	disconnectedBeforeResponse = "connection closed before response"
	errNotConnected            = "transport is not connected"
)

// WebSocketTransport is the persistent duplex channel. It is the only
// transport that is real-time capable and it owns an internal
// reconnect-with-backoff loop independent of the Manager's fallback.
type WebSocketTransport struct {
	config  Config
	dialer  *websocket.Dialer
	emitter *emitter
	logger  *zap.Logger

	mux       sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	lastPing  time.Time
	lastErr   error

	writeMux sync.Mutex
	seq      atomic.Uint64
	attempts atomic.Int32
	pending  *collection.SyncMap[uint64, chan *jsonrpc.Response]
}

// NewWebSocketTransport creates a WebSocket transport from the config.
func NewWebSocketTransport(config Config) (*WebSocketTransport, error) {
	config.Kind = KindWebSocket
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.logger().With(zap.String("transport", KindWebSocket.String()))
	return &WebSocketTransport{
		config:  config,
		dialer:  &websocket.Dialer{HandshakeTimeout: config.timeout()},
		emitter: newEmitter(logger),
		logger:  logger,
		pending: collection.NewSyncMap[uint64, chan *jsonrpc.Response](),
	}, nil
}

func (t *WebSocketTransport) Kind() Kind            { return KindWebSocket }
func (t *WebSocketTransport) RealTimeCapable() bool { return true }

// Connect dials the endpoint and starts the read and keepalive loops.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.mux.Lock()
	if t.closed {
		t.mux.Unlock()
		return &ConfigurationError{Field: "transport", Reason: "was closed"}
	}
	if t.connected {
		t.mux.Unlock()
		return nil
	}
	t.mux.Unlock()

	conn, err := t.dial(ctx)
	if err != nil {
		t.mux.Lock()
		t.lastErr = err
		t.mux.Unlock()
		return err
	}
	t.install(conn)
	t.emitter.emit(EventConnected, nil)
	return nil
}

func (t *WebSocketTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := websocketEndpoint(t.config.URL)
	if err != nil {
		return nil, &ConfigurationError{Field: "url", Reason: err.Error()}
	}
	header := http.Header{}
	for name, value := range t.config.Headers {
		header.Set(name, value)
	}
	if t.config.Credentials != nil {
		authHeader, err := t.config.Credentials.AuthHeader(ctx)
		if err != nil {
			return nil, &ConfigurationError{Field: "credentials", Reason: err.Error()}
		}
		authHeader.Apply(header)
	}
	ctx, cancel := context.WithTimeout(ctx, t.config.timeout())
	defer cancel()
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest && !connectionClass(err) {
			return nil, &ProtocolError{Kind: KindWebSocket, StatusCode: resp.StatusCode, Message: "handshake rejected", Err: err}
		}
		return nil, &ConnectionError{Kind: KindWebSocket, Op: "dial", Err: err}
	}
	return conn, nil
}

// install swaps in a live connection and spawns its pumps.
func (t *WebSocketTransport) install(conn *websocket.Conn) {
	conn.SetPongHandler(func(string) error {
		t.mux.Lock()
		t.lastPing = time.Now()
		t.mux.Unlock()
		return conn.SetReadDeadline(time.Now().Add(defaultPongWait))
	})
	_ = conn.SetReadDeadline(time.Now().Add(defaultPongWait))

	t.mux.Lock()
	previous := t.conn
	t.conn = conn
	t.connected = true
	t.lastPing = time.Now()
	t.lastErr = nil
	t.mux.Unlock()
	if previous != nil {
		_ = previous.Close()
	}
	go t.readLoop(conn)
	go t.keepalive(conn)
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleReadFailure(conn, err)
			return
		}
		t.dispatch(data)
	}
}

// dispatch routes an inbound frame: responses resolve a pending send,
// id-less frames are server notifications surfaced as message events.
func (t *WebSocketTransport) dispatch(data []byte) {
	var frame struct {
		Jsonrpc string          `json:"jsonrpc"`
		Id      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		Result  json.RawMessage `json:"result"`
		Error   *jsonrpc.Error  `json:"error"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.logger.Debug("dropping malformed frame", zap.Error(err))
		t.emitter.emit(EventError, &ProtocolError{Kind: KindWebSocket, Message: "malformed frame", Err: err})
		return
	}
	if frame.Id == nil && frame.Method != "" {
		t.emitter.emit(EventMessage, &jsonrpc.Notification{Method: frame.Method, Params: frame.Params})
		return
	}
	id := conv.AsUint64(frame.Id)
	waiter, ok := t.pending.Get(id)
	if !ok {
		t.logger.Debug("dropping response with no waiter", zap.Uint64("id", id))
		return
	}
	t.pending.Delete(id)
	waiter <- &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: id, Result: frame.Result, Error: frame.Error}
}

func (t *WebSocketTransport) keepalive(conn *websocket.Conn) {
	interval := defaultPingInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		t.mux.RLock()
		current, closed := t.conn, t.closed
		t.mux.RUnlock()
		if closed || current != conn {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			return
		}
	}
}

// handleReadFailure tears down the failed connection, fails pending calls and
// kicks off the internal reconnect loop unless the transport was closed.
func (t *WebSocketTransport) handleReadFailure(conn *websocket.Conn, cause error) {
	t.mux.Lock()
	if t.conn != conn {
		t.mux.Unlock()
		return
	}
	intentional := t.closed || !t.connected
	t.conn = nil
	t.connected = false
	if !intentional {
		t.lastErr = cause
	}
	t.mux.Unlock()
	_ = conn.Close()
	t.failPending()
	if intentional {
		return
	}
	connErr := &ConnectionError{Kind: KindWebSocket, Op: "read", Err: cause}
	t.logger.Debug("connection lost", zap.Error(cause))
	t.emitter.emit(EventError, connErr)
	t.emitter.emit(EventDisconnected, connErr)
	go t.reconnect()
}

// reconnect retries the dial with exponential backoff until the policy budget
// is exhausted or the transport is disconnected/closed.
func (t *WebSocketTransport) reconnect() {
	policy := t.config.Reconnect
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReconnectAttempts
	}
	backoff := policy.MinBackoff
	if backoff <= 0 {
		backoff = defaultReconnectMinBackoff
	}
	maxBackoff := policy.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultReconnectMaxBackoff
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		t.mux.RLock()
		closed, connected := t.closed, t.connected
		t.mux.RUnlock()
		if closed || connected {
			return
		}
		t.attempts.Add(1)
		t.emitter.emit(EventReconnecting, attempt)
		ctx, cancel := context.WithTimeout(context.Background(), t.config.timeout())
		conn, err := t.dial(ctx)
		cancel()
		if err == nil {
			t.install(conn)
			t.attempts.Store(0)
			t.logger.Info("reconnected", zap.Int("attempt", attempt))
			t.emitter.emit(EventConnected, nil)
			return
		}
		t.logger.Debug("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	t.logger.Warn("reconnect budget exhausted", zap.Int("attempts", maxAttempts))
}

// failPending rejects every in-flight call on the dead connection.
func (t *WebSocketTransport) failPending() {
	if count := t.pending.Len(); count > 0 {
		t.logger.Debug("failing in-flight calls", zap.Int("count", count))
	}
	t.pending.Range(func(id uint64, waiter chan *jsonrpc.Response) bool {
		t.pending.Delete(id)
		waiter <- &jsonrpc.Response{
			Jsonrpc: jsonrpc.Version,
			Id:      id,
			Error:   jsonrpc.NewInternalError(disconnectedBeforeResponse, nil),
		}
		return true
	})
}

// Send writes the request and waits for the correlated response.
func (t *WebSocketTransport) Send(ctx context.Context, request *jsonrpc.Request) (*jsonrpc.Response, error) {
	if request == nil {
		return nil, &ConfigurationError{Field: "request", Reason: "was nil"}
	}
	t.mux.RLock()
	conn, connected := t.conn, t.connected
	t.mux.RUnlock()
	if !connected || conn == nil {
		return nil, &ConnectionError{Kind: KindWebSocket, Op: "send", Err: errors.New(errNotConnected)}
	}
	if request.Id == nil {
		request.Id = t.seq.Add(1)
	}
	// Frames come back with JSON-decoded ids; correlate on the normalized form.
	id := conv.AsUint64(request.Id)
	waiter := make(chan *jsonrpc.Response, 1)
	t.pending.Put(id, waiter)
	defer t.pending.Delete(id)

	t.writeMux.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := conn.WriteJSON(request)
	t.writeMux.Unlock()
	if err != nil {
		wrapped := classify(KindWebSocket, "write", err)
		t.mux.Lock()
		t.lastErr = wrapped
		t.mux.Unlock()
		return nil, wrapped
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.timeout())
	defer cancel()
	select {
	case <-ctx.Done():
		return nil, &ConnectionError{Kind: KindWebSocket, Op: "await response", Err: ctx.Err()}
	case response := <-waiter:
		if response.Error != nil && response.Error.Message == disconnectedBeforeResponse {
			return nil, &ConnectionError{Kind: KindWebSocket, Op: "await response", Err: errors.New(disconnectedBeforeResponse)}
		}
		return response, nil
	}
}

// Disconnect closes the socket without triggering the reconnect loop.
func (t *WebSocketTransport) Disconnect(_ context.Context) error {
	t.mux.Lock()
	conn := t.conn
	wasConnected := t.connected
	t.conn = nil
	t.connected = false
	t.mux.Unlock()
	if conn != nil {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		_ = conn.Close()
	}
	t.failPending()
	if wasConnected {
		t.emitter.emit(EventDisconnected, nil)
	}
	return nil
}

func (t *WebSocketTransport) IsConnected() bool {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return t.connected
}

func (t *WebSocketTransport) Status() Status {
	t.mux.RLock()
	defer t.mux.RUnlock()
	status := Status{
		Connected:         t.connected,
		Kind:              KindWebSocket,
		KindName:          KindWebSocket.String(),
		URL:               t.config.URL,
		LastPing:          t.lastPing,
		ReconnectAttempts: int(t.attempts.Load()),
	}
	if t.lastErr != nil {
		status.LastError = t.lastErr.Error()
	}
	return status
}

func (t *WebSocketTransport) On(event Event, handler Handler) Subscription {
	return t.emitter.on(event, handler)
}

func (t *WebSocketTransport) Off(subscription Subscription) {
	t.emitter.off(subscription)
}

// Close is idempotent; a closed transport never reconnects.
func (t *WebSocketTransport) Close() error {
	t.mux.Lock()
	if t.closed {
		t.mux.Unlock()
		return nil
	}
	t.closed = true
	t.mux.Unlock()
	return t.Disconnect(context.Background())
}

// websocketEndpoint normalizes the configured URL onto a ws/wss scheme.
func websocketEndpoint(base string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws", "wss":
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("websocket URL %q missing host", base)
	}
	if !strings.HasSuffix(parsed.Path, "/mcp") && parsed.Path == "" {
		parsed.Path = "/mcp"
	}
	return parsed.String(), nil
}
