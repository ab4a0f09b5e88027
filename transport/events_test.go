package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_SubscribeAndEmit(t *testing.T) {
	emitter := newEmitter(nil)
	var got []interface{}
	emitter.on(EventConnected, func(payload interface{}) {
		got = append(got, payload)
	})
	emitter.emit(EventConnected, nil)
	emitter.emit(EventConnected, "again")
	emitter.emit(EventDisconnected, "other event")

	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	assert.Equal(t, "again", got[1])
}

func TestEmitter_Off(t *testing.T) {
	emitter := newEmitter(nil)
	count := 0
	subscription := emitter.on(EventError, func(interface{}) { count++ })
	emitter.emit(EventError, errors.New("boom"))
	emitter.off(subscription)
	emitter.emit(EventError, errors.New("boom"))
	assert.Equal(t, 1, count)

	// Removing twice is harmless.
	emitter.off(subscription)
}

func TestEmitter_PanicIsolation(t *testing.T) {
	emitter := newEmitter(nil)
	var delivered []string
	emitter.on(EventMessage, func(interface{}) {
		panic("handler bug")
	})
	emitter.on(EventMessage, func(interface{}) {
		delivered = append(delivered, "second")
	})

	// A panicking handler affects neither the emitter nor its peers.
	require.NotPanics(t, func() {
		emitter.emit(EventMessage, "payload")
	})
	assert.Equal(t, []string{"second"}, delivered)

	require.NotPanics(t, func() {
		emitter.emit(EventMessage, "payload")
	})
	assert.Equal(t, []string{"second", "second"}, delivered)
}
