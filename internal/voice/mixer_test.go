package voice

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func readFrames(t *testing.T, m *mixer, frames int) []float32 {
	t.Helper()
	p := make([]byte, frames*4)
	n, err := m.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("Read() = %d, %v; want %d, nil", n, err, len(p))
	}
	out := make([]float32, frames)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}
	return out
}

func TestMixerClockFollowsPulledFrames(t *testing.T) {
	m := newMixer(1000)
	if m.Now() != 0 {
		t.Fatalf("Now() = %v, want 0", m.Now())
	}
	readFrames(t, m, 250)
	if m.Now() != 250*time.Millisecond {
		t.Fatalf("Now() = %v, want 250ms", m.Now())
	}
}

func TestMixerPlacesVoicesAtStartTime(t *testing.T) {
	m := newMixer(1000)
	if _, err := m.Start([]float32{0.5, 0.5}, 2*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := m.Start([]float32{0.25}, 3*time.Millisecond); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	got := readFrames(t, m, 5)
	want := []float32{0, 0, 0.5, 0.75, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frame %d = %v, want %v (all %v)", i, got[i], want[i], got)
		}
	}
	if m.active() != 0 {
		t.Fatalf("active() = %d after voices finished", m.active())
	}
}

func TestMixerStoppedVoiceIsSilent(t *testing.T) {
	m := newMixer(1000)
	v, _ := m.Start([]float32{1, 1, 1, 1}, 0)
	readFrames(t, m, 2)
	v.Stop()
	got := readFrames(t, m, 2)
	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("stopped voice still audible: %v", got)
	}
}

func TestMixerLateStartClampsToNow(t *testing.T) {
	m := newMixer(1000)
	readFrames(t, m, 10)
	m.Start([]float32{0.5}, 0)
	got := readFrames(t, m, 1)
	if got[0] != 0.5 {
		t.Fatalf("frame = %v, want 0.5", got[0])
	}
}

func TestMixerClosedReturnsSilence(t *testing.T) {
	m := newMixer(1000)
	m.Start([]float32{1, 1}, 0)
	_ = m.Close()
	got := readFrames(t, m, 2)
	if got[0] != 0 || got[1] != 0 {
		t.Fatalf("closed mixer output = %v", got)
	}
	if _, err := m.Start([]float32{1}, 0); err == nil {
		t.Fatalf("Start() after Close succeeded")
	}
}
