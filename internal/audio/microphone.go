// Package audio opens the local sound devices: microphone capture through
// malgo and agent speech playback through oto.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/d-kavaliou/book-buddy/internal/metrics"
	"github.com/d-kavaliou/book-buddy/internal/voice"
)

// ErrMicrophoneBusy is returned when a capture handle is already open.
var ErrMicrophoneBusy = errors.New("microphone already in use")

const (
	channels       = 1
	periodMS       = 20
	frameQueueSize = 64
)

// Microphone opens exclusive 16-bit mono capture streams.
type Microphone struct {
	sampleRate int
	log        *slog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	active *Capture
}

// NewMicrophone returns a microphone capturing at sampleRate. The audio
// backend is initialised on first Acquire.
func NewMicrophone(sampleRate int, log *slog.Logger) *Microphone {
	if log == nil {
		log = slog.Default()
	}
	return &Microphone{sampleRate: sampleRate, log: log}
}

// Acquire starts a capture device. Only one handle may be open at a time.
func (m *Microphone) Acquire(ctx context.Context) (voice.MicHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrMicrophoneBusy
	}
	if m.ctx == nil {
		mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return nil, fmt.Errorf("init audio context: %w", err)
		}
		m.ctx = mctx
	}

	c := &Capture{
		owner:  m,
		frames: make(chan []byte, frameQueueSize),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = channels
	cfg.SampleRate = uint32(m.sampleRate)
	cfg.PeriodSizeInMilliseconds = periodMS

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: c.onData})
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}
	c.device = device
	m.active = c
	m.log.Info("microphone opened", "sample_rate", m.sampleRate)
	return c, nil
}

// Close releases the audio backend. Open captures are released first.
func (m *Microphone) Close() error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil {
		active.Release()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

func (m *Microphone) released(c *Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == c {
		m.active = nil
	}
}

// Capture is an open microphone stream.
type Capture struct {
	owner  *Microphone
	device *malgo.Device
	frames chan []byte

	once sync.Once
	mu   sync.Mutex
	done bool
}

// Frames delivers captured PCM periods. The channel is closed on Release.
func (c *Capture) Frames() <-chan []byte { return c.frames }

// Release stops the device. Calling it again is a no-op.
func (c *Capture) Release() error {
	c.once.Do(func() {
		c.device.Stop()
		c.device.Uninit()
		c.mu.Lock()
		c.done = true
		close(c.frames)
		c.mu.Unlock()
		c.owner.released(c)
		c.owner.log.Info("microphone released")
	})
	return nil
}

func (c *Capture) onData(_, input []byte, _ uint32) {
	frame := make([]byte, len(input))
	copy(frame, input)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return
	}
	select {
	case c.frames <- frame:
	default:
		metrics.AudioFramesDropped.Inc()
	}
}
