package audio

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClipStopEncodesRecording(t *testing.T) {
	mic := NewMockMicrophone()
	c := NewCapture(mic)

	clip, err := c.StartClip(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartClip() error = %v", err)
	}
	mic.Feed([]byte{1, 0, 2, 0})
	mic.Feed([]byte{3, 0})

	enc, err := clip.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if enc.MIMEType != WAVMIMEType {
		t.Fatalf("MIMEType = %q, want %q", enc.MIMEType, WAVMIMEType)
	}
	pcm, _, err := DecodeWAVPCM16(enc.Data)
	if err != nil {
		t.Fatalf("DecodeWAVPCM16() error = %v", err)
	}
	if len(pcm) != 6 {
		t.Fatalf("len(pcm) = %d, want 6", len(pcm))
	}
	if mic.Held() != 0 || c.Busy() {
		t.Fatalf("microphone still held after Stop()")
	}
	if _, err := clip.Stop(); !errors.Is(err, ErrCaptureNotActive) {
		t.Fatalf("second Stop() error = %v, want ErrCaptureNotActive", err)
	}
}

func TestClipCancelReleasesAndDiscards(t *testing.T) {
	mic := NewMockMicrophone()
	c := NewCapture(mic)
	clip, err := c.StartClip(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartClip() error = %v", err)
	}
	mic.Feed([]byte{1, 0})
	clip.Cancel()
	clip.Cancel()

	if mic.Held() != 0 || c.Busy() {
		t.Fatalf("microphone still held after Cancel()")
	}
	if _, err := clip.Stop(); !errors.Is(err, ErrCaptureNotActive) {
		t.Fatalf("Stop() after Cancel() error = %v, want ErrCaptureNotActive", err)
	}
	if clip.Err() != nil {
		t.Fatalf("Err() = %v, want nil", clip.Err())
	}
}

func TestClipElapsedTicks(t *testing.T) {
	mic := NewMockMicrophone()
	c := NewCapture(mic, WithTickInterval(5*time.Millisecond))
	ticks := make(chan int, 16)
	clip, err := c.StartClip(context.Background(), func(n int) {
		select {
		case ticks <- n:
		default:
		}
	})
	if err != nil {
		t.Fatalf("StartClip() error = %v", err)
	}
	defer clip.Cancel()

	prev := 0
	for i := 0; i < 3; i++ {
		select {
		case n := <-ticks:
			if n <= prev {
				t.Fatalf("elapsed went %d -> %d", prev, n)
			}
			prev = n
		case <-time.After(time.Second):
			t.Fatalf("no tick")
		}
	}
}

func TestOpenErrorsPropagate(t *testing.T) {
	for _, want := range []error{ErrPermissionDenied, ErrDeviceUnavailable} {
		mic := NewMockMicrophone()
		mic.SetOpenError(fmt.Errorf("mock: %w", want))
		c := NewCapture(mic)
		if _, err := c.StartClip(context.Background(), nil); !errors.Is(err, want) {
			t.Fatalf("StartClip() error = %v, want %v", err, want)
		}
		if c.Busy() {
			t.Fatalf("capture busy after failed open")
		}
	}
	if _, err := NewCapture(nil).StartContinuous(context.Background()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("StartContinuous(nil device) error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestMicrophoneIsExclusive(t *testing.T) {
	mic := NewMockMicrophone()
	c := NewCapture(mic)
	clip, err := c.StartClip(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartClip() error = %v", err)
	}
	if _, err := c.StartContinuous(context.Background()); !errors.Is(err, ErrMicrophoneBusy) {
		t.Fatalf("StartContinuous() error = %v, want ErrMicrophoneBusy", err)
	}
	if mic.Opens() != 1 {
		t.Fatalf("device opened %d times, want 1", mic.Opens())
	}
	clip.Cancel()
	s, err := c.StartContinuous(context.Background())
	if err != nil {
		t.Fatalf("StartContinuous() after release error = %v", err)
	}
	_ = s.Stop()
}

func TestClipTerminatesOnDeviceFailure(t *testing.T) {
	mic := NewMockMicrophone()
	c := NewCapture(mic)
	clip, err := c.StartClip(context.Background(), nil)
	if err != nil {
		t.Fatalf("StartClip() error = %v", err)
	}
	mic.Fail(errors.New("unplugged"))

	select {
	case <-clip.Done():
	case <-time.After(time.Second):
		t.Fatalf("clip did not terminate")
	}
	if !errors.Is(clip.Err(), ErrCaptureTerminated) {
		t.Fatalf("Err() = %v, want ErrCaptureTerminated", clip.Err())
	}
	if _, err := clip.Stop(); !errors.Is(err, ErrCaptureTerminated) {
		t.Fatalf("Stop() error = %v, want ErrCaptureTerminated", err)
	}
	if c.Busy() {
		t.Fatalf("capture busy after termination")
	}
}

func TestStreamYieldsFixedFrames(t *testing.T) {
	mic := NewMockMicrophone()
	c := NewCapture(mic, WithFrameSamples(4))
	s, err := c.StartContinuous(context.Background())
	if err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	mic.Feed(make([]byte, 6))
	mic.Feed(make([]byte, 12))

	for i := 0; i < 2; i++ {
		select {
		case f := <-s.Frames():
			if len(f) != 8 {
				t.Fatalf("frame %d len = %d, want 8", i, len(f))
			}
		case <-time.After(time.Second):
			t.Fatalf("frame %d not delivered", i)
		}
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if mic.Held() != 0 {
		t.Fatalf("microphone held after Stop()")
	}
	for range s.Frames() {
	}
	if s.Err() != nil {
		t.Fatalf("Err() after Stop() = %v, want nil", s.Err())
	}
}

func TestStreamTerminatesOnDeviceFailure(t *testing.T) {
	mic := NewMockMicrophone()
	c := NewCapture(mic)
	s, err := c.StartContinuous(context.Background())
	if err != nil {
		t.Fatalf("StartContinuous() error = %v", err)
	}
	mic.Fail(errors.New("unplugged"))
	for range s.Frames() {
	}
	if !errors.Is(s.Err(), ErrCaptureTerminated) {
		t.Fatalf("Err() = %v, want ErrCaptureTerminated", s.Err())
	}
	waitFor(t, "release", func() bool { return !c.Busy() })
	_ = s.Stop()
}
