package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeDeliversFramesInOrder(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	got := make(chan []byte, 10)
	b.SetReceiveHandler(func(frame []byte) { got <- frame })

	require.NoError(t, a.Send([]byte("one")))
	require.NoError(t, a.Send([]byte("two")))

	assert.Equal(t, []byte("one"), <-got)
	assert.Equal(t, []byte("two"), <-got)
}

func TestPipeCloseReachesBothEnds(t *testing.T) {
	a, b := NewPipe()

	closed := make(chan error, 1)
	b.SetCloseHandler(func(err error) { closed <- err })

	require.NoError(t, a.Close())

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("peer close handler not invoked")
	}

	assert.ErrorIs(t, a.Send([]byte("x")), ErrChannelClosed)
}

func TestPipeTransformDropsFrames(t *testing.T) {
	a, b := NewPipe()
	defer a.Close()

	got := make(chan []byte, 10)
	b.SetReceiveHandler(func(frame []byte) { got <- frame })

	a.(*pipeEnd).setTransform(func(frame []byte) ([]byte, bool) {
		return frame, len(frame) > 3
	})

	require.NoError(t, a.Send([]byte("long frame")))
	require.NoError(t, a.Send([]byte("ok")))

	assert.Equal(t, []byte("ok"), <-got)
	select {
	case frame := <-got:
		t.Fatalf("dropped frame delivered: %q", frame)
	case <-time.After(50 * time.Millisecond):
	}
}
