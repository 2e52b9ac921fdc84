package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

var errMediaClosed = errors.New("media closed")

// FFplayConfig configures ffplay-backed media.
type FFplayConfig struct {
	FFplayPath  string
	FFprobePath string
	LogLevel    string
	Volume      int // 0-100
}

func (c *FFplayConfig) applyDefaults() {
	if strings.TrimSpace(c.FFplayPath) == "" {
		c.FFplayPath = "ffplay"
	}
	if strings.TrimSpace(c.FFprobePath) == "" {
		c.FFprobePath = "ffprobe"
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "error"
	}
	if c.Volume <= 0 || c.Volume > 100 {
		c.Volume = 100
	}
}

// NewFFplayOpener returns an Opener that plays sources through an ffplay
// subprocess. Pausing stops the process; playing restarts it at the saved
// position with -ss.
func NewFFplayOpener(cfg FFplayConfig) Opener {
	cfg.applyDefaults()
	return func(ctx context.Context, source string) (Media, error) {
		if source == "" {
			return nil, fmt.Errorf("empty source")
		}
		d, err := probeDuration(ctx, cfg.FFprobePath, source)
		if err != nil {
			return nil, err
		}
		return &FFplay{cfg: cfg, source: source, duration: d, now: time.Now}, nil
	}
}

// probeDuration asks ffprobe for the container duration. Streams without a
// known duration report 0.
func probeDuration(ctx context.Context, ffprobe, source string) (float64, error) {
	out, err := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		source,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", source, err)
	}
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, nil
	}
	return d, nil
}

// FFplay is Media backed by an ffplay process.
type FFplay struct {
	cfg      FFplayConfig
	source   string
	duration float64
	now      func() time.Time

	mu        sync.Mutex
	cmd       *exec.Cmd
	done      chan struct{}
	startedAt time.Time
	base      float64
	running   bool
	closed    bool
	err       error
}

func (f *FFplay) Play() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errMediaClosed
	}
	if f.running {
		return nil
	}
	return f.startLocked(f.base)
}

func (f *FFplay) Pause() error {
	f.mu.Lock()
	done := f.stopLocked()
	f.mu.Unlock()
	waitDone(done)
	return nil
}

func (f *FFplay) Seek(t float64) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return errMediaClosed
	}
	wasRunning := f.running
	done := f.stopLocked()
	f.base = t
	f.mu.Unlock()
	waitDone(done)

	if !wasRunning {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.running {
		return nil
	}
	return f.startLocked(t)
}

func (f *FFplay) CurrentTime() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.positionLocked()
}

func (f *FFplay) Duration() float64 { return f.duration }

func (f *FFplay) Playing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *FFplay) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *FFplay) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	done := f.stopLocked()
	f.mu.Unlock()
	waitDone(done)
	return nil
}

func (f *FFplay) startLocked(pos float64) error {
	cmd := exec.Command(f.cfg.FFplayPath,
		"-nodisp",
		"-autoexit",
		"-loglevel", f.cfg.LogLevel,
		"-volume", strconv.Itoa(f.cfg.Volume),
		"-ss", strconv.FormatFloat(pos, 'f', 3, 64),
		f.source,
	)
	if err := cmd.Start(); err != nil {
		f.err = fmt.Errorf("start ffplay: %w", err)
		return f.err
	}
	done := make(chan struct{})
	f.cmd = cmd
	f.done = done
	f.base = pos
	f.startedAt = f.now()
	f.running = true
	f.err = nil
	go f.wait(cmd, done)
	return nil
}

// stopLocked kills a running process and returns a channel closed once it is
// reaped. The position is frozen at the moment of the stop.
func (f *FFplay) stopLocked() chan struct{} {
	if !f.running || f.cmd == nil {
		return nil
	}
	f.base = f.positionLocked()
	cmd, done := f.cmd, f.done
	f.cmd = nil
	f.done = nil
	f.running = false
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return done
}

func (f *FFplay) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	f.mu.Lock()
	if f.cmd == cmd {
		// Exited on its own: end of media or a playback failure.
		f.base = f.positionLocked()
		if err != nil {
			f.err = fmt.Errorf("ffplay: %w", err)
		} else if f.duration > 0 {
			f.base = f.duration
		}
		f.cmd = nil
		f.done = nil
		f.running = false
	}
	f.mu.Unlock()
	close(done)
}

func (f *FFplay) positionLocked() float64 {
	if !f.running {
		return f.base
	}
	t := f.base + f.now().Sub(f.startedAt).Seconds()
	if f.duration > 0 && t > f.duration {
		t = f.duration
	}
	return t
}

func waitDone(done chan struct{}) {
	if done != nil {
		<-done
	}
}
