package errors

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeDisconnection, "ping failed")
	outer := Wrap(inner, ErrorTypeResetFailure, "rollback failed")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, IsResetFailure(outer))
	assert.False(t, IsType(outer, ErrorTypeDisconnection))
	assert.True(t, HasType(outer, ErrorTypeDisconnection))
	assert.True(t, IsDisconnection(outer))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeConnection, "noop"))
}

func TestInvalidatesPool(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"plain error", io.EOF, false},
		{"single connection", Disconnection(io.EOF, "dead", false), false},
		{"whole pool", Disconnection(io.EOF, "dead", true), true},
		{"wrapped whole pool", Wrap(Disconnection(nil, "dead", true), ErrorTypeInternal, "outer"), true},
		{"other type with detail", New(ErrorTypeConnection, "x").WithDetail("invalidate_pool", true), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InvalidatesPool(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypePoolExhausted, "x")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "x")))
	assert.False(t, IsRetryable(New(ErrorTypeInvalidRequest, "x")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(io.EOF, ErrorTypeConnection, "connect failed")
	assert.Equal(t, "connection: connect failed: EOF", err.Error())
	assert.ErrorIs(t, err, io.EOF)

	err = Newf(ErrorTypeConfig, "size must be >= 0, got %d", -1)
	assert.Equal(t, "config: size must be >= 0, got -1", err.Error())
	assert.NotEmpty(t, err.Stack)
}
