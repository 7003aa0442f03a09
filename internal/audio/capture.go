package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPermissionDenied   = errors.New("microphone permission denied")
	ErrDeviceUnavailable  = errors.New("no audio input device available")
	ErrMicrophoneBusy     = errors.New("microphone already in use")
	ErrCaptureTerminated  = errors.New("capture terminated")
	ErrCaptureNotActive   = errors.New("capture not active")
	errInputClosedNoError = errors.New("input closed")
)

// Input is an open microphone stream. Chunks carries raw PCM16LE bytes and is
// closed after Close or when the device fails; Err then reports the failure.
type Input interface {
	Chunks() <-chan []byte
	Err() error
	Close() error
}

// InputDevice grants access to a microphone. OpenInput returns an error
// wrapping ErrPermissionDenied or ErrDeviceUnavailable when access fails.
type InputDevice interface {
	OpenInput(ctx context.Context, format Format) (Input, error)
}

type CaptureOption func(*Capture)

// WithTickInterval changes the elapsed counter period. Tests use short ticks.
func WithTickInterval(d time.Duration) CaptureOption {
	return func(c *Capture) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithFrameSamples sets the number of samples per continuous-capture frame.
func WithFrameSamples(n int) CaptureOption {
	return func(c *Capture) {
		if n > 0 {
			c.frameSamples = n
		}
	}
}

// Capture owns the microphone: at most one clip or stream holds it at a time.
type Capture struct {
	device       InputDevice
	format       Format
	tick         time.Duration
	frameSamples int

	mu     sync.Mutex
	holder any
}

func NewCapture(device InputDevice, opts ...CaptureOption) *Capture {
	c := &Capture{
		device:       device,
		format:       CaptureFormat,
		tick:         time.Second,
		frameSamples: LiveFrameSamples,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Busy reports whether a clip or stream currently holds the microphone.
func (c *Capture) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder != nil
}

func (c *Capture) acquire(h any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holder != nil {
		return ErrMicrophoneBusy
	}
	c.holder = h
	return nil
}

func (c *Capture) release(h any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holder == h {
		c.holder = nil
	}
}

func (c *Capture) open(ctx context.Context, h any) (Input, error) {
	if c.device == nil {
		return nil, ErrDeviceUnavailable
	}
	if err := c.acquire(h); err != nil {
		return nil, err
	}
	in, err := c.device.OpenInput(ctx, c.format)
	if err != nil {
		c.release(h)
		return nil, err
	}
	return in, nil
}

// EncodedClip is a finished recording ready for a one-shot gateway call.
type EncodedClip struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
}

type clipState int

const (
	clipActive clipState = iota
	clipStopped
	clipCancelled
	clipFailed
)

// Clip accumulates a discrete recording for message mode.
type Clip struct {
	capture *Capture
	in      Input
	onTick  func(elapsed int)

	elapsed atomic.Int64
	done    chan struct{}

	mu    sync.Mutex
	state clipState
	buf   []byte
	err   error
}

// StartClip opens the microphone and starts accumulating audio. onTick, when
// set, is called with the elapsed seconds on every tick.
func (c *Capture) StartClip(ctx context.Context, onTick func(elapsed int)) (*Clip, error) {
	clip := &Clip{capture: c, onTick: onTick, done: make(chan struct{})}
	in, err := c.open(ctx, clip)
	if err != nil {
		return nil, err
	}
	clip.in = in
	go clip.pump()
	return clip, nil
}

func (cl *Clip) pump() {
	defer close(cl.done)
	defer cl.capture.release(cl)

	ticker := time.NewTicker(cl.capture.tick)
	defer ticker.Stop()

	chunks := cl.in.Chunks()
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				cl.finish()
				return
			}
			cl.mu.Lock()
			if cl.state == clipActive || cl.state == clipStopped {
				cl.buf = append(cl.buf, chunk...)
			}
			cl.mu.Unlock()
		case <-ticker.C:
			n := int(cl.elapsed.Add(1))
			if cl.onTick != nil && cl.active() {
				cl.onTick(n)
			}
		}
	}
}

// finish runs when the input channel closes. An input that closes while the
// clip is still active has terminated underneath us.
func (cl *Clip) finish() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.state != clipActive {
		return
	}
	cl.state = clipFailed
	cl.buf = nil
	err := cl.in.Err()
	if err == nil {
		err = errInputClosedNoError
	}
	cl.err = fmt.Errorf("%w: %v", ErrCaptureTerminated, err)
}

func (cl *Clip) active() bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.state == clipActive
}

// Elapsed is the number of whole ticks since capture started.
func (cl *Clip) Elapsed() int {
	return int(cl.elapsed.Load())
}

// Done is closed once the clip has released the microphone.
func (cl *Clip) Done() <-chan struct{} {
	return cl.done
}

// Err reports why the clip terminated on its own, if it did.
func (cl *Clip) Err() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.err
}

// Stop finalizes the clip and returns the recording encoded as WAV. The
// microphone is released whether or not encoding succeeds.
func (cl *Clip) Stop() (EncodedClip, error) {
	cl.mu.Lock()
	switch cl.state {
	case clipFailed:
		err := cl.err
		cl.mu.Unlock()
		<-cl.done
		return EncodedClip{}, err
	case clipStopped, clipCancelled:
		cl.mu.Unlock()
		return EncodedClip{}, ErrCaptureNotActive
	}
	cl.state = clipStopped
	cl.mu.Unlock()

	_ = cl.in.Close()
	<-cl.done

	cl.mu.Lock()
	pcm := cl.buf
	cl.buf = nil
	cl.mu.Unlock()

	data, err := EncodeWAVPCM16LE(pcm, cl.capture.format.SampleRate)
	if err != nil {
		return EncodedClip{}, fmt.Errorf("encode clip: %w", err)
	}
	return EncodedClip{
		Data:     data,
		MIMEType: WAVMIMEType,
		Duration: PCMDuration(pcm, cl.capture.format.SampleRate),
	}, nil
}

// Cancel releases the microphone and discards everything recorded. It is
// safe to call more than once and after Stop.
func (cl *Clip) Cancel() {
	cl.mu.Lock()
	if cl.state == clipActive {
		cl.state = clipCancelled
		cl.buf = nil
	}
	cl.mu.Unlock()
	_ = cl.in.Close()
	<-cl.done
}

// Stream is a continuous capture for live mode. Frames yields fixed-size
// PCM16LE frames until Stop or a device failure, then closes.
type Stream struct {
	capture *Capture
	in      Input
	frames  chan []byte
	quit    chan struct{}
	done    chan struct{}

	stopOnce sync.Once
	stopped  atomic.Bool

	mu  sync.Mutex
	err error
}

// StartContinuous opens the microphone for live streaming.
func (c *Capture) StartContinuous(ctx context.Context) (*Stream, error) {
	s := &Stream{
		capture: c,
		frames:  make(chan []byte, 8),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	in, err := c.open(ctx, s)
	if err != nil {
		return nil, err
	}
	s.in = in
	go s.pump()
	return s, nil
}

func (s *Stream) pump() {
	defer close(s.done)
	defer close(s.frames)
	defer s.capture.release(s)

	frameBytes := s.capture.frameSamples * bytesPerSample
	pending := make([]byte, 0, frameBytes*2)
	chunks := s.in.Chunks()
	for {
		select {
		case <-s.quit:
			return
		case chunk, ok := <-chunks:
			if !ok {
				if !s.stopped.Load() {
					err := s.in.Err()
					if err == nil {
						err = errInputClosedNoError
					}
					s.mu.Lock()
					s.err = fmt.Errorf("%w: %v", ErrCaptureTerminated, err)
					s.mu.Unlock()
				}
				return
			}
			pending = append(pending, chunk...)
			for len(pending) >= frameBytes {
				frame := make([]byte, frameBytes)
				copy(frame, pending[:frameBytes])
				pending = pending[frameBytes:]
				select {
				case s.frames <- frame:
				case <-s.quit:
					return
				}
			}
		}
	}
}

func (s *Stream) Frames() <-chan []byte {
	return s.frames
}

// Err reports a device failure after Frames has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop releases the microphone. Repeated calls are no-ops.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.quit)
		_ = s.in.Close()
		<-s.done
	})
	return nil
}
