package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/jsonrpc"

	"github.com/lanonasis/memory-client-go/auth"
)

func TestVerbForTool(t *testing.T) {
	testCases := []struct {
		tool   string
		expect string
	}{
		{"memory_create", http.MethodPost},
		{"memory_update", http.MethodPut},
		{"memory_delete", http.MethodDelete},
		{"memory_search", http.MethodPost},
		{"memory_get", http.MethodGet},
		{"memory_list", http.MethodGet},
		{"apikey_create", http.MethodPost},
		{"something_else", http.MethodGet},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, verbForTool(testCase.tool), testCase.tool)
	}
}

func TestHealthEndpoint(t *testing.T) {
	testCases := []struct {
		base   string
		expect string
		hasErr bool
	}{
		{base: "https://api.lanonasis.com", expect: "https://api.lanonasis.com/health"},
		{base: "https://api.lanonasis.com/", expect: "https://api.lanonasis.com/health"},
		{base: "https://api.lanonasis.com/v2/", expect: "https://api.lanonasis.com/v2/health"},
		{base: "https://api.lanonasis.com?token=x", expect: "https://api.lanonasis.com/health"},
		{base: "not a url", hasErr: true},
		{base: "/relative/only", hasErr: true},
	}
	for _, testCase := range testCases {
		actual, err := healthEndpoint(testCase.base)
		if testCase.hasErr {
			assert.Error(t, err, testCase.base)
			continue
		}
		require.NoError(t, err, testCase.base)
		assert.Equal(t, testCase.expect, actual, testCase.base)
	}
}

func toolsCallRequest(t *testing.T, tool string, arguments map[string]interface{}) *jsonrpc.Request {
	t.Helper()
	request, err := jsonrpc.NewRequest(methodToolsCall, map[string]interface{}{
		"name":      tool,
		"arguments": arguments,
	})
	require.NoError(t, err)
	request.Id = 7
	return request
}

func TestHTTPTransport_SendRoutesToolCalls(t *testing.T) {
	type captured struct {
		method string
		path   string
		query  string
		body   string
	}
	var got captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = captured{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(body)}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m-1","title":"note"}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(Config{URL: server.URL})
	require.NoError(t, err)
	defer transport.Close()
	ctx := context.Background()

	testCases := []struct {
		description string
		tool        string
		arguments   map[string]interface{}
		wantMethod  string
		wantPath    string
		wantQuery   string
		wantBody    string
	}{
		{
			description: "create posts the arguments",
			tool:        "memory_create",
			arguments:   map[string]interface{}{"title": "note"},
			wantMethod:  http.MethodPost,
			wantPath:    "/api/v1/memory",
			wantBody:    `{"title":"note"}`,
		},
		{
			description: "search posts to the search endpoint",
			tool:        "memory_search",
			arguments:   map[string]interface{}{"query": "standup"},
			wantMethod:  http.MethodPost,
			wantPath:    "/api/v1/memory/search",
			wantBody:    `{"query":"standup"}`,
		},
		{
			description: "update uses put",
			tool:        "memory_update",
			arguments:   map[string]interface{}{"id": "m-1"},
			wantMethod:  http.MethodPut,
			wantPath:    "/api/v1/memory",
		},
		{
			description: "delete uses delete",
			tool:        "memory_delete",
			arguments:   map[string]interface{}{"id": "m-1"},
			wantMethod:  http.MethodDelete,
			wantPath:    "/api/v1/memory",
		},
		{
			description: "list encodes arguments as query",
			tool:        "memory_list",
			arguments:   map[string]interface{}{"limit": 5},
			wantMethod:  http.MethodGet,
			wantPath:    "/api/v1/memory",
			wantQuery:   "limit=5",
		},
		{
			description: "unknown tool falls back to the mcp tools path",
			tool:        "topic_list",
			arguments:   nil,
			wantMethod:  http.MethodGet,
			wantPath:    "/mcp/tools/topic_list",
		},
	}
	for _, testCase := range testCases {
		response, err := transport.Send(ctx, toolsCallRequest(t, testCase.tool, testCase.arguments))
		require.NoError(t, err, testCase.description)
		assert.Equal(t, uint64(7), response.Id, testCase.description)
		assert.JSONEq(t, `{"id":"m-1","title":"note"}`, string(response.Result), testCase.description)

		assert.Equal(t, testCase.wantMethod, got.method, testCase.description)
		assert.Equal(t, testCase.wantPath, got.path, testCase.description)
		if testCase.wantQuery != "" {
			assert.Equal(t, testCase.wantQuery, got.query, testCase.description)
		}
		if testCase.wantBody != "" {
			assert.JSONEq(t, testCase.wantBody, got.body, testCase.description)
		}
	}
}

func TestHTTPTransport_SendForwardsNonToolMethods(t *testing.T) {
	var gotPath string
	var gotEnvelope jsonrpc.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotEnvelope))
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":3,"result":{"tools":[]}}`))
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(Config{URL: server.URL})
	require.NoError(t, err)
	defer transport.Close()

	request, err := jsonrpc.NewRequest("tools/list", nil)
	require.NoError(t, err)
	request.Id = 3
	response, err := transport.Send(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, "/mcp", gotPath)
	assert.Equal(t, "tools/list", gotEnvelope.Method)
	assert.Equal(t, uint64(3), response.Id)
	assert.JSONEq(t, `{"tools":[]}`, string(response.Result))
}

func TestHTTPTransport_ConnectProbesHealth(t *testing.T) {
	var gotPath, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(auth.DefaultAPIKeyHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(Config{
		URL:         server.URL,
		Credentials: auth.NewStaticStore("secret"),
	})
	require.NoError(t, err)
	defer transport.Close()

	var connected bool
	transport.On(EventConnected, func(interface{}) { connected = true })

	require.NoError(t, transport.Connect(context.Background()))
	assert.Equal(t, "/health", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.True(t, transport.IsConnected())
	assert.True(t, connected)
}

func TestHTTPTransport_ProtocolErrorKeepsConnection(t *testing.T) {
	fail := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			http.Error(w, "bad input", http.StatusUnprocessableEntity)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	transport, err := NewHTTPTransport(Config{URL: server.URL})
	require.NoError(t, err)
	defer transport.Close()
	ctx := context.Background()
	require.NoError(t, transport.Connect(ctx))

	fail = true
	_, err = transport.Send(ctx, toolsCallRequest(t, "memory_get", map[string]interface{}{"id": "m-1"}))
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, http.StatusUnprocessableEntity, protoErr.StatusCode)
	assert.True(t, transport.IsConnected())
	assert.Contains(t, transport.Status().LastError, "422")
}

func TestHTTPTransport_NetworkErrorDisconnects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	transport, err := NewHTTPTransport(Config{URL: server.URL})
	require.NoError(t, err)
	defer transport.Close()
	ctx := context.Background()
	require.NoError(t, transport.Connect(ctx))

	var disconnected bool
	transport.On(EventDisconnected, func(interface{}) { disconnected = true })

	server.Close()
	_, err = transport.Send(ctx, toolsCallRequest(t, "memory_get", map[string]interface{}{"id": "m-1"}))
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.False(t, transport.IsConnected())
	assert.True(t, disconnected)
}

func TestHTTPTransport_ConnectNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	server.Close()

	transport, err := NewHTTPTransport(Config{URL: server.URL})
	require.NoError(t, err)
	defer transport.Close()

	err = transport.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.False(t, transport.IsConnected())
}

func TestHTTPTransport_CloseIdempotent(t *testing.T) {
	transport, err := NewHTTPTransport(Config{URL: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, transport.Close())
	require.NoError(t, transport.Close())
	require.Error(t, transport.Connect(context.Background()))
	assert.False(t, transport.RealTimeCapable())
}
