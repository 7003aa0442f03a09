package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/ent0n29/sahayak/internal/audio"
)

const inputQueue = 64

var errDeviceStopped = errors.New("capture device stopped")

// MalgoMicrophone captures S16 mono PCM from the default capture device.
type MalgoMicrophone struct {
	ctx *malgo.AllocatedContext
}

func NewMalgoMicrophone() (*MalgoMicrophone, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime
	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &MalgoMicrophone{ctx: ctx}, nil
}

func (m *MalgoMicrophone) OpenInput(ctx context.Context, format audio.Format) (audio.Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices, err := m.ctx.Devices(malgo.Capture)
	if err != nil || len(devices) == 0 {
		return nil, fmt.Errorf("%w: no capture device", audio.ErrDeviceUnavailable)
	}

	in := &malgoInput{chunks: make(chan []byte, inputQueue)}
	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) { in.push(samples) },
		Stop: in.deviceStopped,
	})
	if err != nil {
		// miniaudio does not separate a refused permission from a missing device.
		return nil, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	in.device = device
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: start capture: %v", audio.ErrDeviceUnavailable, err)
	}
	return in, nil
}

func (m *MalgoMicrophone) Close() error {
	err := m.ctx.Uninit()
	m.ctx.Free()
	return err
}

type malgoInput struct {
	device *malgo.Device
	chunks chan []byte

	mu      sync.Mutex
	closing bool
	closed  bool
	err     error
}

func (in *malgoInput) push(samples []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return
	}
	chunk := append([]byte(nil), samples...)
	select {
	case in.chunks <- chunk:
	default:
		log.Printf("voice: capture queue full, dropping %d bytes", len(chunk))
	}
}

// deviceStopped fires for our own Stop as well as for device loss.
func (in *malgoInput) deviceStopped() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closing || in.closed {
		return
	}
	in.err = errDeviceStopped
	in.closed = true
	close(in.chunks)
}

func (in *malgoInput) Chunks() <-chan []byte { return in.chunks }

func (in *malgoInput) Err() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.err
}

func (in *malgoInput) Close() error {
	in.mu.Lock()
	if in.closing {
		in.mu.Unlock()
		return nil
	}
	in.closing = true
	in.mu.Unlock()

	err := in.device.Stop()
	in.device.Uninit()

	in.mu.Lock()
	if !in.closed {
		in.closed = true
		close(in.chunks)
	}
	in.mu.Unlock()
	return err
}
