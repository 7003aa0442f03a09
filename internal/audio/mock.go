package audio

import (
	"context"
	"sync"
	"time"
)

// MockMicrophone is an InputDevice driven programmatically. It is used when
// no hardware is attached and by tests.
type MockMicrophone struct {
	mu      sync.Mutex
	openErr error
	opens   int
	current *mockInput
	live    int
}

func NewMockMicrophone() *MockMicrophone {
	return &MockMicrophone{}
}

// SetOpenError makes subsequent OpenInput calls fail with err.
func (m *MockMicrophone) SetOpenError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

func (m *MockMicrophone) OpenInput(ctx context.Context, _ Format) (Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return nil, m.openErr
	}
	in := &mockInput{parent: m, chunks: make(chan []byte, 256)}
	m.opens++
	m.live++
	m.current = in
	return in, nil
}

// Feed delivers pcm to the most recently opened input. It reports false when
// no input is open.
func (m *MockMicrophone) Feed(pcm []byte) bool {
	m.mu.Lock()
	in := m.current
	m.mu.Unlock()
	if in == nil {
		return false
	}
	return in.feed(pcm)
}

// Fail terminates the open input as if the device had been unplugged.
func (m *MockMicrophone) Fail(err error) {
	m.mu.Lock()
	in := m.current
	m.mu.Unlock()
	if in != nil {
		in.fail(err)
	}
}

// Opens is the number of successful OpenInput calls.
func (m *MockMicrophone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Held is the number of inputs open right now.
func (m *MockMicrophone) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

type mockInput struct {
	parent *MockMicrophone
	chunks chan []byte

	mu     sync.Mutex
	closed bool
	err    error
}

func (in *mockInput) feed(pcm []byte) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	select {
	case in.chunks <- append([]byte(nil), pcm...):
		return true
	default:
		return false
	}
}

func (in *mockInput) fail(err error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.err = err
	in.mu.Unlock()
	_ = in.Close()
}

func (in *mockInput) Chunks() <-chan []byte { return in.chunks }

func (in *mockInput) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

func (in *mockInput) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	close(in.chunks)
	in.mu.Unlock()

	p := in.parent
	p.mu.Lock()
	p.live--
	if p.current == in {
		p.current = nil
	}
	p.mu.Unlock()
	return nil
}

// MockOutput is an Output with a manually advanced clock.
type MockOutput struct {
	rate int

	mu     sync.Mutex
	now    time.Duration
	voices []*MockVoice
	closed bool
}

func NewMockOutput(rate int) *MockOutput {
	if rate <= 0 {
		rate = PlaybackSampleRate
	}
	return &MockOutput{rate: rate}
}

func (o *MockOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

// Advance moves the clock forward by d.
func (o *MockOutput) Advance(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += d
}

func (o *MockOutput) Start(samples []float32, at time.Duration) (Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrSchedulerClosed
	}
	v := &MockVoice{
		Samples: samples,
		At:      at,
		Length:  SamplesDuration(len(samples), o.rate),
	}
	o.voices = append(o.voices, v)
	return v, nil
}

func (o *MockOutput) SampleRate() int { return o.rate }

func (o *MockOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *MockOutput) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Voices returns every voice started on the output, in start order.
func (o *MockOutput) Voices() []*MockVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*MockVoice(nil), o.voices...)
}

// Sounding is the number of voices audible at the current clock position.
func (o *MockOutput) Sounding() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, v := range o.voices {
		if !v.Stopped() && v.At+v.Length > o.now {
			n++
		}
	}
	return n
}

type MockVoice struct {
	Samples []float32
	At      time.Duration
	Length  time.Duration

	mu      sync.Mutex
	stopped bool
}

func (v *MockVoice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

func (v *MockVoice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// MockSpeaker is an OutputDevice handing out MockOutputs.
type MockSpeaker struct {
	mu      sync.Mutex
	openErr error
	outputs []*MockOutput
}

func NewMockSpeaker() *MockSpeaker {
	return &MockSpeaker{}
}

func (s *MockSpeaker) SetOpenError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

func (s *MockSpeaker) OpenOutput(format Format) (Output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	out := NewMockOutput(format.SampleRate)
	s.outputs = append(s.outputs, out)
	return out, nil
}

// Outputs returns every output opened so far.
func (s *MockSpeaker) Outputs() []*MockOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MockOutput(nil), s.outputs...)
}

// Held is the number of outputs not yet closed.
func (s *MockSpeaker) Held() int {
	s.mu.Lock()
	outs := append([]*MockOutput(nil), s.outputs...)
	s.mu.Unlock()
	n := 0
	for _, o := range outs {
		if !o.Closed() {
			n++
		}
	}
	return n
}
