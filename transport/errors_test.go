package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionClass(t *testing.T) {
	testCases := []struct {
		description string
		err         error
		expect      bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, true},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com"}, true},
		{"refused text", errors.New("dial tcp 127.0.0.1:80: connect: connection refused"), true},
		{"reset text", errors.New("read tcp: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"io timeout", errors.New("read tcp: i/o timeout"), true},
		{"abort", errors.New("websocket: close 1006 (abnormal closure): request aborted"), true},
		{"plain failure", errors.New("record not found"), false},
		{"validation", errors.New("title must not be empty"), false},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, connectionClass(testCase.err), testCase.description)
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, classify(KindWebSocket, "send", nil))

	err := classify(KindWebSocket, "send", errors.New("broken pipe"))
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, KindWebSocket, connErr.Kind)
	assert.Equal(t, "send", connErr.Op)

	err = classify(KindHTTP, "send", errors.New("record not found"))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, KindHTTP, protoErr.Kind)
}

func TestIsConnectionError(t *testing.T) {
	inner := &ConnectionError{Kind: KindHTTP, Op: "connect", Err: errors.New("refused")}
	assert.True(t, IsConnectionError(inner))
	assert.True(t, IsConnectionError(fmt.Errorf("send failed: %w", inner)))
	assert.False(t, IsConnectionError(errors.New("refused")))
	assert.False(t, IsConnectionError(&ProtocolError{Kind: KindHTTP, Message: "bad"}))
}
