package audio

import (
	"errors"
	"sync"
	"time"
)

var ErrSchedulerClosed = errors.New("playback scheduler closed")

// Voice is one scheduled playback unit on an Output.
type Voice interface {
	Stop()
}

// Output is an audio sink with its own clock. Now is the position of the
// device clock; Start schedules samples to begin at a clock position.
type Output interface {
	Now() time.Duration
	Start(samples []float32, at time.Duration) (Voice, error)
	SampleRate() int
	Close() error
}

// OutputDevice opens the speaker for a live connection.
type OutputDevice interface {
	OpenOutput(format Format) (Output, error)
}

// Scheduled describes where an enqueued chunk landed on the output clock.
type Scheduled struct {
	Start    time.Duration
	Duration time.Duration
}

func (s Scheduled) End() time.Duration { return s.Start + s.Duration }

type pendingVoice struct {
	voice Voice
	end   time.Duration
}

// Scheduler lays inbound audio chunks end to end on an Output so playback is
// gapless and never overlaps.
type Scheduler struct {
	out  Output
	rate int

	mu      sync.Mutex
	next    time.Duration
	pending []pendingVoice
	closed  bool
}

func NewScheduler(out Output) *Scheduler {
	rate := out.SampleRate()
	if rate <= 0 {
		rate = PlaybackSampleRate
	}
	return &Scheduler{out: out, rate: rate}
}

// Enqueue decodes a PCM16LE chunk and schedules it.
func (s *Scheduler) Enqueue(pcm []byte) (Scheduled, error) {
	return s.EnqueueSamples(DecodePCM16LE(pcm))
}

// EnqueueSamples schedules decoded samples at max(now, next start) and
// advances the cursor by their duration.
func (s *Scheduler) EnqueueSamples(samples []float32) (Scheduled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Scheduled{}, ErrSchedulerClosed
	}
	now := s.out.Now()
	s.prune(now)

	start := s.next
	if start < now {
		start = now
	}
	dur := SamplesDuration(len(samples), s.rate)
	if len(samples) == 0 {
		return Scheduled{Start: start}, nil
	}
	v, err := s.out.Start(samples, start)
	if err != nil {
		return Scheduled{}, err
	}
	s.next = start + dur
	s.pending = append(s.pending, pendingVoice{voice: v, end: s.next})
	return Scheduled{Start: start, Duration: dur}, nil
}

// Interrupt stops every playing and pending chunk and resets the cursor to the
// current clock position. It returns the number of voices stopped.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interruptLocked()
}

func (s *Scheduler) interruptLocked() int {
	now := s.out.Now()
	s.prune(now)
	n := len(s.pending)
	for _, p := range s.pending {
		p.voice.Stop()
	}
	s.pending = nil
	s.next = now
	return n
}

func (s *Scheduler) prune(now time.Duration) {
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.end > now {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(s.pending); i++ {
		s.pending[i] = pendingVoice{}
	}
	s.pending = kept
}

// Pending is the number of scheduled chunks that have not finished playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.out.Now())
	return len(s.pending)
}

// NextStart is the playback cursor.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Close interrupts playback and closes the output.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.interruptLocked()
	s.mu.Unlock()
	return s.out.Close()
}
