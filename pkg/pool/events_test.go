package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

func TestListenersOn(t *testing.T) {
	l := pool.NewListeners()

	tests := []struct {
		name    string
		event   string
		fn      interface{}
		wantErr bool
	}{
		{"connect literal", pool.EventConnect, func(pool.Conn, *pool.Record) error { return nil }, false},
		{"checkin named type", pool.EventCheckin, pool.ConnectionFunc(func(pool.Conn, *pool.Record) error { return nil }), false},
		{"checkout", pool.EventCheckout, func(pool.Conn, *pool.Record, *pool.Fairy) error { return nil }, false},
		{"invalidate", pool.EventInvalidate, func(pool.Conn, *pool.Record, error) error { return nil }, false},
		{"soft invalidate named", pool.EventSoftInvalidate, pool.InvalidateFunc(func(pool.Conn, *pool.Record, error) error { return nil }), false},
		{"close detached", pool.EventCloseDetached, func(pool.Conn) error { return nil }, false},
		{"checkout with connect signature", pool.EventCheckout, func(pool.Conn, *pool.Record) error { return nil }, true},
		{"close detached with record", pool.EventCloseDetached, func(pool.Conn, *pool.Record) error { return nil }, true},
		{"not a func", pool.EventConnect, 42, true},
		{"unknown event", "engine_connect", func(pool.Conn) error { return nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := l.On(tt.event, tt.fn)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequest(err))
				return
			}
			require.NoError(t, err)
		})
	}

	assert.Equal(t, 1, l.Len(pool.EventConnect))
	assert.Equal(t, 1, l.Len(pool.EventCheckin))
	assert.Equal(t, 1, l.Len(pool.EventCheckout))
	assert.Equal(t, 1, l.Len(pool.EventInvalidate))
	assert.Equal(t, 1, l.Len(pool.EventSoftInvalidate))
	assert.Equal(t, 1, l.Len(pool.EventCloseDetached))
	assert.Zero(t, l.Len(pool.EventReset))
}

func TestListenersCloneIsIndependent(t *testing.T) {
	l := pool.NewListeners()
	l.OnReset(func(pool.Conn, *pool.Record) error { return nil })

	c := l.Clone()
	c.OnReset(func(pool.Conn, *pool.Record) error { return nil })

	assert.Equal(t, 1, l.Len(pool.EventReset))
	assert.Equal(t, 2, c.Len(pool.EventReset))

	l.Reset()
	assert.Zero(t, l.Len(pool.EventReset))
	assert.Equal(t, 2, c.Len(pool.EventReset))
}
