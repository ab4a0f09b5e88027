package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lanonasis/memory-client-go/internal/conv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/jsonrpc"
)

func TestWebsocketEndpoint(t *testing.T) {
	testCases := []struct {
		base   string
		expect string
		hasErr bool
	}{
		{base: "wss://api.lanonasis.com/mcp", expect: "wss://api.lanonasis.com/mcp"},
		{base: "https://api.lanonasis.com", expect: "wss://api.lanonasis.com/mcp"},
		{base: "http://localhost:3002", expect: "ws://localhost:3002/mcp"},
		{base: "ws://localhost:3002/custom", expect: "ws://localhost:3002/custom"},
		{base: "ftp://api.lanonasis.com", hasErr: true},
		{base: "wss://", hasErr: true},
	}
	for _, testCase := range testCases {
		actual, err := websocketEndpoint(testCase.base)
		if testCase.hasErr {
			assert.Error(t, err, testCase.base)
			continue
		}
		require.NoError(t, err, testCase.base)
		assert.Equal(t, testCase.expect, actual, testCase.base)
	}
}

// echoFrame is the wire shape the fake server reads and writes.
type echoFrame struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

func newEchoServer(t *testing.T, notify bool) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if notify {
			_ = conn.WriteJSON(&echoFrame{
				Jsonrpc: jsonrpc.Version,
				Method:  "memory/updated",
				Params:  json.RawMessage(`{"id":"m-1"}`),
			})
		}
		for {
			var frame echoFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			_ = conn.WriteJSON(&echoFrame{
				Jsonrpc: jsonrpc.Version,
				Id:      frame.Id,
				Result:  json.RawMessage(`{"echoed":"` + frame.Method + `"}`),
			})
		}
	}))
}

func TestWebSocketTransport_SendCorrelatesResponses(t *testing.T) {
	server := newEchoServer(t, false)
	defer server.Close()

	transport, err := NewWebSocketTransport(Config{URL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer transport.Close()

	ctx := context.Background()
	require.NoError(t, transport.Connect(ctx))
	require.True(t, transport.IsConnected())
	assert.True(t, transport.RealTimeCapable())

	request, err := jsonrpc.NewRequest("tools/list", nil)
	require.NoError(t, err)
	require.Nil(t, request.Id)
	response, err := transport.Send(ctx, request)
	require.NoError(t, err)
	// An id-less request gets one assigned before it hits the wire.
	require.NotNil(t, request.Id)
	assert.Equal(t, conv.AsUint64(request.Id), conv.AsUint64(response.Id))
	assert.JSONEq(t, `{"echoed":"tools/list"}`, string(response.Result))

	// Ids are assigned from a monotonic sequence when absent.
	second, err := jsonrpc.NewRequest("tools/list", nil)
	require.NoError(t, err)
	_, err = transport.Send(ctx, second)
	require.NoError(t, err)
	assert.Greater(t, conv.AsUint64(second.Id), conv.AsUint64(request.Id))
}

func TestWebSocketTransport_ConcurrentSendsCorrelate(t *testing.T) {
	server := newEchoServer(t, false)
	defer server.Close()

	transport, err := NewWebSocketTransport(Config{URL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer transport.Close()
	ctx := context.Background()
	require.NoError(t, transport.Connect(ctx))

	// Id-less requests issued concurrently must each get their own response.
	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			request, err := jsonrpc.NewRequest(fmt.Sprintf("tool/%d", index), nil)
			if err != nil {
				errs[index] = err
				return
			}
			response, err := transport.Send(ctx, request)
			if err != nil {
				errs[index] = err
				return
			}
			results[index] = string(response.Result)
		}(i)
	}
	wg.Wait()

	for index := 0; index < 8; index++ {
		require.NoError(t, errs[index], "call %d", index)
		assert.JSONEq(t, fmt.Sprintf(`{"echoed":"tool/%d"}`, index), results[index], "call %d", index)
	}
}

func TestWebSocketTransport_ServerNotifications(t *testing.T) {
	server := newEchoServer(t, true)
	defer server.Close()

	transport, err := NewWebSocketTransport(Config{URL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer transport.Close()

	received := make(chan *jsonrpc.Notification, 1)
	transport.On(EventMessage, func(payload interface{}) {
		if notification, ok := payload.(*jsonrpc.Notification); ok {
			received <- notification
		}
	})
	require.NoError(t, transport.Connect(context.Background()))

	select {
	case notification := <-received:
		assert.Equal(t, "memory/updated", notification.Method)
		assert.JSONEq(t, `{"id":"m-1"}`, string(notification.Params))
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestWebSocketTransport_SendWhileDisconnected(t *testing.T) {
	transport, err := NewWebSocketTransport(Config{URL: "wss://example.com/mcp"})
	require.NoError(t, err)
	defer transport.Close()

	request, err := jsonrpc.NewRequest("tools/list", nil)
	require.NoError(t, err)
	_, err = transport.Send(context.Background(), request)
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
}

func TestWebSocketTransport_DisconnectIsQuiet(t *testing.T) {
	server := newEchoServer(t, false)
	defer server.Close()

	transport, err := NewWebSocketTransport(Config{URL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer transport.Close()

	reconnecting := make(chan struct{}, 1)
	transport.On(EventReconnecting, func(interface{}) {
		select {
		case reconnecting <- struct{}{}:
		default:
		}
	})
	ctx := context.Background()
	require.NoError(t, transport.Connect(ctx))
	require.NoError(t, transport.Disconnect(ctx))
	assert.False(t, transport.IsConnected())

	select {
	case <-reconnecting:
		t.Fatal("intentional disconnect must not trigger reconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebSocketTransport_CloseIdempotent(t *testing.T) {
	server := newEchoServer(t, false)
	defer server.Close()

	transport, err := NewWebSocketTransport(Config{URL: server.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.NoError(t, transport.Connect(context.Background()))
	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	require.Error(t, transport.Connect(context.Background()))
}

func TestFactory(t *testing.T) {
	ws, err := New(Config{Kind: KindWebSocket, URL: "wss://example.com"})
	require.NoError(t, err)
	assert.Equal(t, KindWebSocket, ws.Kind())

	httpTransport, err := New(Config{Kind: KindHTTP, URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, KindHTTP, httpTransport.Kind())

	_, err = New(Config{Kind: KindUnknown, URL: "https://example.com"})
	require.Error(t, err)
}
