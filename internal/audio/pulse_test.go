package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"testing"

	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/stretchr/testify/require"
)

func TestSelectDeviceFromListPrimaryDefault(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "default", "default")
	require.NoError(t, err)
	require.Equal(t, "elgato", selection.Device.ID)
	require.Empty(t, selection.Warning)
}

func TestSelectDeviceFromListMutedPrimaryUsesFallback(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
		{ID: "sony", Description: "Sony WH-1000XM6", Available: true},
	}

	selection, err := selectDeviceFromList(devices, "elgato", "sony")
	require.NoError(t, err)
	require.Equal(t, "sony", selection.Device.ID)
	require.Contains(t, selection.Warning, "muted")
	require.True(t, selection.Fallback)
}

func TestSelectDeviceFromListFailsWhenSelectedAndFallbackMuted(t *testing.T) {
	devices := []Device{
		{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Muted: true, Default: true},
	}

	_, err := selectDeviceFromList(devices, "default", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "muted")
}

func TestSelectDeviceFromListUnknownInput(t *testing.T) {
	devices := []Device{{ID: "elgato", Description: "Elgato Wave 3 Mono", Available: true, Default: true}}

	_, err := selectDeviceFromList(devices, "missing", "default")
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not match")
}

func TestDeviceMatchesByIDAndDescription(t *testing.T) {
	dev := Device{ID: "alsa_input.usb-elgato", Description: "Elgato Wave 3 Mono"}
	require.True(t, deviceMatches(dev, "elgato"))
	require.True(t, deviceMatches(dev, "wave 3"))
	require.False(t, deviceMatches(dev, "missing"))
}

func TestListDevicesFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := ListDevices(context.Background())
	require.Error(t, err)
}

func TestSelectDeviceFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := SelectDevice(context.Background(), "default", "default")
	require.Error(t, err)
}

func TestSourceStateString(t *testing.T) {
	require.Equal(t, "running", sourceStateString(0))
	require.Equal(t, "idle", sourceStateString(1))
	require.Equal(t, "suspended", sourceStateString(2))
	require.Equal(t, "unknown(99)", sourceStateString(99))
}

func TestSourceAvailable(t *testing.T) {
	require.False(t, sourceAvailable(nil))
	require.True(t, sourceAvailable(&pulseproto.GetSourceInfoReply{})) // no ports => available

	available := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, available, []sourcePort{{name: "mic", available: 2}})
	require.True(t, sourceAvailable(available))

	notAvailable := &pulseproto.GetSourceInfoReply{ActivePortName: "mic"}
	setSourcePorts(t, notAvailable, []sourcePort{{name: "mic", available: 1}})
	require.False(t, sourceAvailable(notAvailable))
}

func TestWriterFuncDelegatesWrite(t *testing.T) {
	called := false
	writer := writerFunc(func(b []byte) (int, error) {
		called = true
		require.Equal(t, []byte{1, 2, 3}, b)
		return len(b), nil
	})

	n, err := writer.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.True(t, called)
}

func TestCaptureOnPCMChunkingAndReleaseFlushesPending(t *testing.T) {
	capture := newCapture(Device{ID: "mic"}, DefaultFormat)
	tap := capture.Tap(false)

	input := make([]byte, chunkSizeBytes+111)
	for i := range input {
		input[i] = byte(i % 255)
	}

	n, err := capture.onPCM(input)
	require.NoError(t, err)
	require.Equal(t, len(input), n)
	require.Equal(t, int64(len(input)), capture.BytesCaptured())

	firstChunk := <-tap.C()
	require.Len(t, firstChunk, chunkSizeBytes)

	require.NoError(t, capture.Release())

	remaining, ok := <-tap.C()
	require.True(t, ok)
	require.Len(t, remaining, 111)

	_, ok = <-tap.C()
	require.False(t, ok)
}

func TestCaptureFlushPendingHandsResidualToAttachedTaps(t *testing.T) {
	capture := newCapture(Device{ID: "mic"}, DefaultFormat)
	recorderTap := capture.Tap(false)

	input := make([]byte, chunkSizeBytes+50)
	for i := range input {
		input[i] = byte(i % 251)
	}
	_, err := capture.onPCM(input)
	require.NoError(t, err)
	require.Len(t, <-recorderTap.C(), chunkSizeBytes)

	capture.FlushPending()
	residual := <-recorderTap.C()
	require.Equal(t, input[chunkSizeBytes:], residual)

	recorderTap.Close()
	capture.FlushPending()
	require.NoError(t, capture.Release())
}

func TestCaptureOnPCMReturnsEOFWhenReleased(t *testing.T) {
	capture := newCapture(Device{ID: "mic"}, DefaultFormat)
	require.NoError(t, capture.Release())

	n, err := capture.onPCM([]byte{1, 2, 3})
	require.Equal(t, 0, n)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, int64(0), capture.BytesCaptured())
}

func TestCaptureReleaseIsIdempotent(t *testing.T) {
	capture := newCapture(Device{ID: "mic-1", Description: "Mic"}, DefaultFormat)
	require.Equal(t, "mic-1", capture.Device().ID)
	require.Equal(t, 16000, capture.Format().SampleRate)

	tap := capture.Tap(true)
	require.NoError(t, capture.Release())
	require.NoError(t, capture.Release())

	_, ok := <-tap.C()
	require.False(t, ok)

	late := capture.Tap(false)
	_, ok = <-late.C()
	require.False(t, ok)
}

func TestClassifyPulseError(t *testing.T) {
	require.NoError(t, classifyPulseError(nil))
	require.ErrorIs(t, classifyPulseError(errors.New("connect pulse server: access denied")), ErrPermissionDenied)
	require.ErrorIs(t, classifyPulseError(fmt.Errorf("dial: %w", os.ErrPermission)), ErrPermissionDenied)
	require.ErrorIs(t, classifyPulseError(errors.New("no audio input devices found")), ErrDeviceUnavailable)

	wrapped := fmt.Errorf("%w: muted", ErrDeviceUnavailable)
	require.Equal(t, wrapped, classifyPulseError(wrapped))
}

func TestSourceAcquireFailsWhenPulseUnavailable(t *testing.T) {
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")
	_, err := Source{Input: "default", Fallback: "default"}.Acquire(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}

type sourcePort struct {
	name      string
	available uint32
}

func setSourcePorts(t *testing.T, reply *pulseproto.GetSourceInfoReply, ports []sourcePort) {
	t.Helper()

	sliceType := reflect.TypeOf(reply.Ports)
	sliceValue := reflect.MakeSlice(sliceType, len(ports), len(ports))

	for i, port := range ports {
		item := sliceValue.Index(i)
		item.FieldByName("Name").SetString(port.name)
		item.FieldByName("Available").SetUint(uint64(port.available))
	}

	replyValue := reflect.ValueOf(reply).Elem().FieldByName("Ports")
	replyValue.Set(sliceValue)
}
