package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// SkipStep is the skip forward/back distance in seconds.
const SkipStep = 10.0

// timeEpsilon is the tolerance used when comparing clock readings.
const timeEpsilon = 1e-3

var (
	// ErrDisabled is returned for user interaction while another subsystem
	// owns playback.
	ErrDisabled = errors.New("player is disabled")
	// ErrNoSource is returned when no media has been loaded.
	ErrNoSource = errors.New("no source loaded")
)

// State is a snapshot of the player.
type State struct {
	Source      string
	CurrentTime float64
	Duration    float64
	IsPlaying   bool
	Disabled    bool
}

// Handlers receive player notifications. Either may be nil.
type Handlers struct {
	OnTimeUpdate      func(t float64)
	OnPlayStateChange func(playing bool)
}

// Player is the timed audio player. Owners drive its clock with Tick.
type Player struct {
	open     Opener
	handlers Handlers
	log      *slog.Logger

	mu          sync.Mutex
	media       Media
	source      string
	current     float64
	duration    float64
	playing     bool
	disabled    bool
	lastEmitted float64
	suppressed  bool
	suppressAt  float64
}

// New creates a player that opens sources with open.
func New(open Opener, handlers Handlers, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{open: open, handlers: handlers, log: log}
}

// Load replaces the playback source. The superseded media is closed.
func (p *Player) Load(ctx context.Context, source string) error {
	m, err := p.open(ctx, source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}

	p.mu.Lock()
	old := p.media
	wasPlaying := p.playing
	p.media = m
	p.source = source
	p.current = 0
	p.lastEmitted = 0
	p.suppressed = false
	p.duration = m.Duration()
	p.playing = false
	disabled := p.disabled
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.log.Warn("close superseded media", "error", err)
		}
	}
	p.log.Info("source loaded", "source", source, "duration", m.Duration())
	if wasPlaying {
		p.notifyPlayState(false)
	}
	if !disabled {
		p.notifyTime(0)
	}
	return nil
}

// State returns a snapshot of the player.
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return State{
		Source:      p.source,
		CurrentTime: p.current,
		Duration:    p.duration,
		IsPlaying:   p.playing,
		Disabled:    p.disabled,
	}
}

// CurrentTime returns the last known playback position.
func (p *Player) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Err returns the media's last error.
func (p *Player) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.media == nil {
		return nil
	}
	return p.media.Err()
}

// SetPlaying starts or pauses playback.
func (p *Player) SetPlaying(playing bool) error {
	p.mu.Lock()
	if p.media == nil {
		p.mu.Unlock()
		return ErrNoSource
	}
	if playing && p.disabled {
		p.mu.Unlock()
		return ErrDisabled
	}
	if playing == p.playing {
		p.mu.Unlock()
		return nil
	}

	var err error
	if playing {
		err = p.media.Play()
	} else {
		err = p.media.Pause()
		p.current = p.clamp(p.media.CurrentTime())
	}
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("set playing %v: %w", playing, err)
	}
	p.playing = playing
	p.mu.Unlock()

	p.notifyPlayState(playing)
	return nil
}

// Toggle flips between playing and paused.
func (p *Player) Toggle() error {
	return p.SetPlaying(!p.State().IsPlaying)
}

// SetDisabled blocks or re-enables interaction. Disabling pauses at once;
// enabling never resumes.
func (p *Player) SetDisabled(disabled bool) {
	p.mu.Lock()
	p.disabled = disabled
	stopped := false
	if disabled && p.playing {
		if p.media != nil {
			if err := p.media.Pause(); err != nil {
				p.log.Warn("pause on disable", "error", err)
			}
			p.current = p.clamp(p.media.CurrentTime())
		}
		p.playing = false
		stopped = true
	}
	p.mu.Unlock()

	if stopped {
		p.notifyPlayState(false)
	}
}

// Seek moves playback to t, clamped to [0, duration].
func (p *Player) Seek(t float64) error {
	p.mu.Lock()
	if p.disabled {
		p.mu.Unlock()
		return ErrDisabled
	}
	if p.media == nil {
		p.mu.Unlock()
		return ErrNoSource
	}
	t = p.clamp(t)
	if err := p.media.Seek(t); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("seek %.2f: %w", t, err)
	}
	p.current = t
	p.lastEmitted = t
	p.suppressed = false
	p.mu.Unlock()

	p.notifyTime(t)
	return nil
}

// SkipForward jumps SkipStep seconds ahead.
func (p *Player) SkipForward() error {
	return p.Seek(p.CurrentTime() + SkipStep)
}

// SkipBack jumps SkipStep seconds back.
func (p *Player) SkipBack() error {
	return p.Seek(p.CurrentTime() - SkipStep)
}

// RestoreTime sets the position without notifying OnTimeUpdate for this
// change. It works while disabled.
func (p *Player) RestoreTime(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t = p.clamp(t)
	if p.media != nil {
		if err := p.media.Seek(t); err != nil {
			p.log.Warn("restore position", "position", t, "error", err)
		}
	}
	p.current = t
	p.lastEmitted = t
	p.suppressed = true
	p.suppressAt = t
}

// Tick samples the media clock and emits notifications. Owners call it on
// their own schedule.
func (p *Player) Tick() {
	p.mu.Lock()
	if p.media == nil {
		p.mu.Unlock()
		return
	}
	if d := p.media.Duration(); d > 0 {
		p.duration = d
	}

	ended := false
	if p.playing && !p.media.Playing() {
		p.playing = false
		ended = true
		if err := p.media.Err(); err != nil {
			p.log.Error("playback stopped", "source", p.source, "error", err)
		}
	}

	if p.disabled {
		p.mu.Unlock()
		if ended {
			p.notifyPlayState(false)
		}
		return
	}

	t := p.clamp(p.media.CurrentTime())
	p.current = t
	emit := false
	switch {
	case p.suppressed && math.Abs(t-p.suppressAt) < timeEpsilon:
		p.suppressed = false
		p.lastEmitted = t
	case math.Abs(t-p.lastEmitted) >= timeEpsilon:
		p.suppressed = false
		p.lastEmitted = t
		emit = true
	}
	p.mu.Unlock()

	if ended {
		p.notifyPlayState(false)
	}
	if emit {
		p.notifyTime(t)
	}
}

// Close releases the current media. Calling it again is a no-op.
func (p *Player) Close() error {
	p.mu.Lock()
	m := p.media
	p.media = nil
	p.playing = false
	p.mu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close()
}

// clamp bounds t to [0, duration]; an unknown duration bounds only below.
// Callers hold p.mu.
func (p *Player) clamp(t float64) float64 {
	if t < 0 || math.IsNaN(t) {
		return 0
	}
	if p.duration > 0 && t > p.duration {
		return p.duration
	}
	return t
}

func (p *Player) notifyTime(t float64) {
	if p.handlers.OnTimeUpdate != nil {
		p.handlers.OnTimeUpdate(t)
	}
}

func (p *Player) notifyPlayState(playing bool) {
	if p.handlers.OnPlayStateChange != nil {
		p.handlers.OnPlayStateChange(playing)
	}
}
