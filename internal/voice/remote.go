package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ent0n29/sahayak/internal/audio"
	"github.com/ent0n29/sahayak/internal/protocol"
)

const DefaultGrantTimeout = 10 * time.Second

// Sender delivers a server message to the connected client.
type Sender func(msg any) error

var errClientDisconnected = errors.New("client disconnected")

type grantResult int

const (
	grantGranted grantResult = iota
	grantDenied
	grantUnavailable
)

// RemoteDevices exposes the microphone and speaker of a websocket client as
// audio devices. The client is asked for the microphone on every open and
// answers with a grant action; playback is sent as timestamped chunks on a
// session clock that starts when the devices are created.
type RemoteDevices struct {
	sessionID    string
	send         Sender
	grantTimeout time.Duration
	epoch        time.Time
	now          func() time.Time

	mu       sync.Mutex
	grant    chan grantResult
	input    *remoteInput
	seq      int
	detached bool
}

func NewRemoteDevices(sessionID string, send Sender, grantTimeout time.Duration) *RemoteDevices {
	if grantTimeout <= 0 {
		grantTimeout = DefaultGrantTimeout
	}
	return &RemoteDevices{
		sessionID:    sessionID,
		send:         send,
		grantTimeout: grantTimeout,
		epoch:        time.Now(),
		now:          time.Now,
	}
}

func (d *RemoteDevices) clock() time.Duration { return d.now().Sub(d.epoch) }

// OpenInput asks the client for its microphone and waits for the answer. No
// answer within the grant timeout counts as no device.
func (d *RemoteDevices) OpenInput(ctx context.Context, format audio.Format) (audio.Input, error) {
	d.mu.Lock()
	if d.detached {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, errClientDisconnected)
	}
	if d.grant != nil || d.input != nil {
		d.mu.Unlock()
		return nil, audio.ErrMicrophoneBusy
	}
	grant := make(chan grantResult, 1)
	d.grant = grant
	d.mu.Unlock()

	drop := func() {
		d.mu.Lock()
		if d.grant == grant {
			d.grant = nil
		}
		d.mu.Unlock()
	}

	if err := d.send(protocol.MicrophoneRequested{
		Type:       protocol.TypeMicrophoneRequested,
		SessionID:  d.sessionID,
		SampleRate: format.SampleRate,
	}); err != nil {
		drop()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}

	timer := time.NewTimer(d.grantTimeout)
	defer timer.Stop()

	var res grantResult
	select {
	case res = <-grant:
	case <-timer.C:
		drop()
		return nil, fmt.Errorf("%w: no microphone answer within %s", audio.ErrDeviceUnavailable, d.grantTimeout)
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}

	switch res {
	case grantDenied:
		drop()
		return nil, audio.ErrPermissionDenied
	case grantUnavailable:
		drop()
		return nil, audio.ErrDeviceUnavailable
	}

	in := &remoteInput{owner: d, rate: format.SampleRate, chunks: make(chan []byte, inputQueue)}
	d.mu.Lock()
	if d.grant == grant {
		d.grant = nil
	}
	if d.detached {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, errClientDisconnected)
	}
	d.input = in
	d.mu.Unlock()
	return in, nil
}

// Answer resolves a pending microphone request from a client action. It
// reports whether a request was waiting.
func (d *RemoteDevices) Answer(action string) bool {
	var res grantResult
	switch action {
	case protocol.ActionMicrophoneGranted:
		res = grantGranted
	case protocol.ActionMicrophoneDenied:
		res = grantDenied
	case protocol.ActionMicrophoneUnavailable:
		res = grantUnavailable
	default:
		return false
	}
	d.mu.Lock()
	grant := d.grant
	d.mu.Unlock()
	if grant == nil {
		return false
	}
	select {
	case grant <- res:
		return true
	default:
		return false
	}
}

// Feed delivers client audio to the open microphone input.
func (d *RemoteDevices) Feed(pcm []byte, sampleRate int) bool {
	d.mu.Lock()
	in := d.input
	d.mu.Unlock()
	if in == nil {
		return false
	}
	if sampleRate != in.rate {
		log.Printf("voice: dropping client audio at %d Hz, want %d Hz", sampleRate, in.rate)
		return false
	}
	return in.push(pcm)
}

// Detach marks the client gone. An open input terminates; later opens fail.
func (d *RemoteDevices) Detach() {
	d.mu.Lock()
	d.detached = true
	in := d.input
	grant := d.grant
	d.mu.Unlock()

	if grant != nil {
		select {
		case grant <- grantUnavailable:
		default:
		}
	}
	if in != nil {
		in.terminate(errClientDisconnected)
	}
}

func (d *RemoteDevices) releaseInput(in *remoteInput) {
	d.mu.Lock()
	if d.input == in {
		d.input = nil
	}
	detached := d.detached
	d.mu.Unlock()
	if detached {
		return
	}
	if err := d.send(protocol.MicrophoneReleased{Type: protocol.TypeMicrophoneReleased, SessionID: d.sessionID}); err != nil {
		log.Printf("voice: send microphone_released failed: %v", err)
	}
}

// OpenOutput returns an output that streams chunks to the client.
func (d *RemoteDevices) OpenOutput(format audio.Format) (audio.Output, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached {
		return nil, errClientDisconnected
	}
	return &remoteOutput{owner: d, rate: format.SampleRate}, nil
}

func (d *RemoteDevices) nextSeq() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq
}

type remoteInput struct {
	owner  *RemoteDevices
	rate   int
	chunks chan []byte

	mu     sync.Mutex
	closed bool
	err    error
}

func (in *remoteInput) push(pcm []byte) bool {
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

func (in *remoteInput) terminate(err error) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return
	}
	in.err = err
	in.mu.Unlock()
	_ = in.Close()
}

func (in *remoteInput) Chunks() <-chan []byte { return in.chunks }

func (in *remoteInput) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

func (in *remoteInput) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	close(in.chunks)
	in.mu.Unlock()
	in.owner.releaseInput(in)
	return nil
}

type remoteOutput struct {
	owner *RemoteDevices
	rate  int

	mu     sync.Mutex
	closed bool
}

func (o *remoteOutput) Now() time.Duration { return o.owner.clock() }

func (o *remoteOutput) SampleRate() int { return o.rate }

func (o *remoteOutput) Start(samples []float32, at time.Duration) (audio.Voice, error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, audio.ErrSchedulerClosed
	}
	seq := o.owner.nextSeq()
	msg := protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		SessionID:   o.owner.sessionID,
		Seq:         seq,
		Format:      protocol.PlaybackFormat,
		AudioBase64: base64.StdEncoding.EncodeToString(audio.EncodePCM16LE(samples)),
		StartMS:     at.Milliseconds(),
		DurationMS:  audio.SamplesDuration(len(samples), o.rate).Milliseconds(),
	}
	if err := o.owner.send(msg); err != nil {
		return nil, err
	}
	return &remoteVoice{out: o, seq: seq}, nil
}

func (o *remoteOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

type remoteVoice struct {
	out  *remoteOutput
	seq  int
	once sync.Once
}

func (v *remoteVoice) Stop() {
	v.once.Do(func() {
		err := v.out.owner.send(protocol.PlaybackStop{
			Type:      protocol.TypePlaybackStop,
			SessionID: v.out.owner.sessionID,
			Seq:       v.seq,
		})
		if err != nil {
			log.Printf("voice: send playback_stop failed: %v", err)
		}
	})
}
