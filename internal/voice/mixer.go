package voice

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/ent0n29/sahayak/internal/audio"
)

// mixer is a pull-driven audio.Output. The backend pulls float32 LE mono
// frames through Read; the clock is the number of frames pulled so far, so
// scheduled start times line up with what has actually been handed to the
// device.
type mixer struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices []*mixVoice
	closed bool
}

type mixVoice struct {
	samples []float32
	start   int64

	mu      sync.Mutex
	stopped bool
}

func (v *mixVoice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

func (v *mixVoice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func newMixer(rate int) *mixer {
	return &mixer{rate: rate}
}

func (m *mixer) SampleRate() int { return m.rate }

func (m *mixer) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return audio.SamplesDuration(int(m.pos), m.rate)
}

func (m *mixer) Start(samples []float32, at time.Duration) (audio.Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, audio.ErrSchedulerClosed
	}
	start := int64(at.Seconds()*float64(m.rate) + 0.5)
	if start < m.pos {
		start = m.pos
	}
	v := &mixVoice{samples: samples, start: start}
	m.voices = append(m.voices, v)
	return v, nil
}

// Read fills p with mixed float32 LE frames and advances the clock. Gaps
// between voices are silence. After Close it keeps returning silence so the
// backend can drain.
func (m *mixer) Read(p []byte) (int, error) {
	frames := len(p) / 4
	if frames == 0 {
		return 0, nil
	}
	buf := make([]float32, frames)

	m.mu.Lock()
	from := m.pos
	to := from + int64(frames)
	kept := m.voices[:0]
	for _, v := range m.voices {
		end := v.start + int64(len(v.samples))
		if v.isStopped() || end <= from {
			continue
		}
		kept = append(kept, v)
		if v.start >= to || m.closed {
			continue
		}
		lo := max(v.start, from)
		hi := min(end, to)
		for i := lo; i < hi; i++ {
			buf[i-from] += v.samples[i-v.start]
		}
	}
	for i := len(kept); i < len(m.voices); i++ {
		m.voices[i] = nil
	}
	m.voices = kept
	m.pos = to
	m.mu.Unlock()

	for i, s := range buf {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return frames * 4, nil
}

func (m *mixer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.voices = nil
	return nil
}

func (m *mixer) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, v := range m.voices {
		if !v.isStopped() && v.start+int64(len(v.samples)) > m.pos {
			n++
		}
	}
	return n
}
