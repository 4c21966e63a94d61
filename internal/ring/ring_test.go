package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	r := New(4, false)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Push(Message{Value: i}))
	}
	for i := 0; i < 4; i++ {
		m, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, i, m.Value)
	}
}

func TestTryPushOverflowDefaultPolicy(t *testing.T) {
	r := New(2, false)
	require.NoError(t, r.TryPush(Message{Value: 1}))
	require.NoError(t, r.TryPush(Message{Value: 2}))
	err := r.TryPush(Message{Value: 3})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDropOnOverflowDropsSamplesNeverControl(t *testing.T) {
	r := New(2, true)
	require.NoError(t, r.TryPush(Message{Droppable: true, Value: "a"}))
	require.NoError(t, r.TryPush(Message{Droppable: true, Value: "b"}))
	// Ring full of droppable messages; another droppable push evicts the oldest.
	require.NoError(t, r.TryPush(Message{Droppable: true, Value: "c"}))
	assert.Equal(t, uint64(1), r.DroppedCount())

	// A control message when full and all slots droppable must still get in
	// by evicting a droppable slot, never itself being dropped.
	require.NoError(t, r.TryPush(Message{Droppable: false, Value: "ctrl"}))

	var vals []any
	for r.Len() > 0 {
		m, ok := r.Pop()
		require.True(t, ok)
		vals = append(vals, m.Value)
	}
	assert.Contains(t, vals, "ctrl")
}

func TestControlNeverDroppedUnderPressure(t *testing.T) {
	r := New(1, true)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			_ = r.Push(Message{Droppable: true, Value: i})
		}
		require.NoError(t, r.Push(Message{Droppable: false, Value: "control"}))
		close(done)
	}()

	sawControl := false
	for !sawControl {
		m, ok := r.Pop()
		require.True(t, ok)
		if m.Value == "control" {
			sawControl = true
		}
	}
	<-done
	assert.True(t, sawControl, "control message must never be dropped")
}

func TestCloseDrainsThenStops(t *testing.T) {
	r := New(4, false)
	require.NoError(t, r.Push(Message{Value: 1}))
	r.Close()

	m, ok := r.Pop()
	require.True(t, ok)
	assert.Equal(t, 1, m.Value)

	_, ok = r.Pop()
	assert.False(t, ok)

	assert.ErrorIs(t, r.Push(Message{Value: 2}), ErrClosed)
}
