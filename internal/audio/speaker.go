package audio

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Speaker plays agent speech. oto allows one context per process, so a
// single Speaker is shared by every session.
type Speaker struct {
	ctx    *oto.Context
	player *oto.Player

	mu     sync.Mutex
	buf    []byte
	closed bool
}

// NewSpeaker opens the output device for 16-bit mono PCM at sampleRate.
func NewSpeaker(sampleRate int) (*Speaker, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   0,
	})
	if err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	<-ready

	s := &Speaker{ctx: ctx, buf: make([]byte, 0, sampleRate*4)}
	s.player = ctx.NewPlayer(s)
	s.player.Play()
	return s, nil
}

// Write queues PCM for playback.
func (s *Speaker) Write(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf = append(s.buf, pcm...)
}

// Flush drops queued audio.
func (s *Speaker) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = s.buf[:0]
}

// SetVolume sets the output volume, 0-1.
func (s *Speaker) SetVolume(v float64) {
	s.player.SetVolume(v)
}

// Read feeds oto. It never blocks: an empty queue plays silence.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	clear(p[n:])
	return len(p), nil
}

// Close stops playback.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.buf = nil
	s.mu.Unlock()
	return s.player.Close()
}
