package voice

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/ent0n29/sahayak/internal/audio"
)

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// OtoSpeaker plays scheduled voices through the default output device.
type OtoSpeaker struct {
	rate int

	mu     sync.Mutex
	output *otoOutput
}

// NewOtoSpeaker opens the process-wide oto context at the playback rate and
// waits for the device to become ready.
func NewOtoSpeaker() (*OtoSpeaker, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.PlaybackSampleRate,
			ChannelCount: 1,
			Format:       oto.FormatFloat32LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			otoErr = fmt.Errorf("init speaker: %w", err)
			return
		}
		<-ready
		otoCtx = ctx
	})
	if otoErr != nil {
		return nil, otoErr
	}
	return &OtoSpeaker{rate: audio.PlaybackSampleRate}, nil
}

// OpenOutput starts a player fed by a fresh mixer. One output may be open at
// a time.
func (s *OtoSpeaker) OpenOutput(format audio.Format) (audio.Output, error) {
	if format.SampleRate != s.rate || format.Channels != 1 {
		return nil, fmt.Errorf("speaker: unsupported format %d Hz x%d", format.SampleRate, format.Channels)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output != nil {
		return nil, errors.New("speaker: output already open")
	}
	m := newMixer(s.rate)
	player := otoCtx.NewPlayer(m)
	player.Play()
	out := &otoOutput{mixer: m, player: player, owner: s}
	s.output = out
	return out, nil
}

func (s *OtoSpeaker) release(out *otoOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output == out {
		s.output = nil
	}
}

type otoOutput struct {
	*mixer
	player *oto.Player
	owner  *OtoSpeaker
	once   sync.Once
}

func (o *otoOutput) Close() error {
	var err error
	o.once.Do(func() {
		_ = o.mixer.Close()
		o.player.Pause()
		err = o.player.Close()
		o.owner.release(o)
	})
	return err
}
