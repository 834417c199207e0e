package can

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flashdrv "github.com/openflashdrv/flashdrv"
)

type recordingListener struct {
	frames chan flashdrv.Frame
}

func newRecordingListener() *recordingListener {
	return &recordingListener{frames: make(chan flashdrv.Frame, 8)}
}

func (r *recordingListener) Handle(f flashdrv.Frame) {
	r.frames <- f
}

func TestVirtualBusDeliversAcrossInstances(t *testing.T) {
	bus, err := NewVirtualBus(t.Name())
	require.NoError(t, err)
	require.NoError(t, bus.Connect())

	other, err := NewVirtualBus(t.Name())
	require.NoError(t, err)
	require.NoError(t, other.Connect())

	rx := newRecordingListener()
	require.NoError(t, other.Subscribe(rx))

	frame := flashdrv.Frame{ID: 0x123, DLC: 3, Data: [8]byte{1, 2, 3}}
	require.NoError(t, bus.Send(frame))

	select {
	case got := <-rx.frames:
		assert.Equal(t, frame.ID, got.ID)
		assert.Equal(t, frame.Data, got.Data)
	case <-time.After(time.Second):
		t.Fatal("frame was never delivered to the other instance")
	}
}

func TestVirtualBusDoesNotEchoToItself(t *testing.T) {
	vb, err := NewVirtualBus(t.Name())
	require.NoError(t, err)
	require.NoError(t, vb.Connect())

	concrete := vb.(*VirtualBus)
	rx := newRecordingListener()
	require.NoError(t, concrete.Subscribe(rx))

	require.NoError(t, concrete.Send(flashdrv.Frame{ID: 1}))

	select {
	case <-rx.frames:
		t.Fatal("sender received its own frame despite ReceiveOwn being false")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestVirtualBusDisconnectStopsDelivery(t *testing.T) {
	sender, err := NewVirtualBus(t.Name())
	require.NoError(t, err)
	require.NoError(t, sender.Connect())

	receiver, err := NewVirtualBus(t.Name())
	require.NoError(t, err)
	require.NoError(t, receiver.Connect())
	rx := newRecordingListener()
	require.NoError(t, receiver.Subscribe(rx))
	require.NoError(t, receiver.Disconnect())

	require.NoError(t, sender.Send(flashdrv.Frame{ID: 2}))

	select {
	case <-rx.frames:
		t.Fatal("disconnected instance still received a frame")
	case <-time.After(50 * time.Millisecond):
	}
}
