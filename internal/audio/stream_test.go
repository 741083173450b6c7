package audio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPipeStreamFansOutToEveryTap(t *testing.T) {
	stream := NewPipeStream(Device{ID: "pipe"}, DefaultFormat)
	a := stream.Tap(false)
	b := stream.Tap(false)

	require.True(t, stream.Write([]byte{1, 2}))
	require.Equal(t, []byte{1, 2}, <-a.C())
	require.Equal(t, []byte{1, 2}, <-b.C())
}

func TestPipeStreamLossyTapDropsWhenFull(t *testing.T) {
	stream := NewPipeStream(Device{ID: "pipe"}, DefaultFormat)
	lossy := stream.Tap(true)

	for i := 0; i < lossyTapBuffer+10; i++ {
		require.True(t, stream.Write([]byte{byte(i)}))
	}
	require.Len(t, lossy.C(), lossyTapBuffer)
}

func TestPipeStreamLosslessTapAppliesBackpressureUntilClosed(t *testing.T) {
	stream := NewPipeStream(Device{ID: "pipe"}, DefaultFormat)
	slow := stream.Tap(false)

	for i := 0; i < losslessTapBuffer; i++ {
		require.True(t, stream.Write([]byte{1}))
	}

	done := make(chan struct{})
	go func() {
		stream.Write([]byte{2})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("write should block on a full lossless tap")
	case <-time.After(50 * time.Millisecond):
	}

	slow.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("closing the tap should unblock the writer")
	}
}

func TestPipeStreamReleaseClosesTapsOnce(t *testing.T) {
	stream := NewPipeStream(Device{ID: "pipe"}, DefaultFormat)
	tap := stream.Tap(false)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, stream.Release())
		}()
	}
	wg.Wait()

	require.True(t, stream.Released())
	_, ok := <-tap.C()
	require.False(t, ok)
	require.False(t, stream.Write([]byte{1}))

	tap.Close()
}

func TestTapCloseAfterDetachIsSafe(t *testing.T) {
	stream := NewPipeStream(Device{ID: "pipe"}, DefaultFormat)
	tap := stream.Tap(false)
	tap.Close()
	tap.Close()

	_, ok := <-tap.C()
	require.False(t, ok)
	require.True(t, stream.Write([]byte{1}))
}
