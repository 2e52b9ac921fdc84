package player

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

// fakeMedia is a Media whose clock is moved by the test.
type fakeMedia struct {
	mu       sync.Mutex
	t        float64
	duration float64
	playing  bool
	err      error
	closes   int
	pauses   int
}

func (m *fakeMedia) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = true
	return nil
}

func (m *fakeMedia) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	m.pauses++
	return nil
}

func (m *fakeMedia) Seek(t float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
	return nil
}

func (m *fakeMedia) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t
}

func (m *fakeMedia) Duration() float64 { return m.duration }

func (m *fakeMedia) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

func (m *fakeMedia) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *fakeMedia) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *fakeMedia) advance(d float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t += d
}

func (m *fakeMedia) stop(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
	m.err = err
}

// recorder collects handler notifications.
type recorder struct {
	times  []float64
	states []bool
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnTimeUpdate:      func(t float64) { r.times = append(r.times, t) },
		OnPlayStateChange: func(p bool) { r.states = append(r.states, p) },
	}
}

func newTestPlayer(t *testing.T, duration float64) (*Player, *fakeMedia, *recorder) {
	t.Helper()
	media := &fakeMedia{duration: duration}
	rec := &recorder{}
	open := func(ctx context.Context, source string) (Media, error) { return media, nil }
	p := New(open, rec.handlers(), nil)
	if err := p.Load(context.Background(), "book.mp3"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rec.times = nil
	return p, media, rec
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestSeekReadBack(t *testing.T) {
	p, _, _ := newTestPlayer(t, 120)

	for _, want := range []float64{0, 0.25, 33.3, 119.999, 120} {
		if err := p.Seek(want); err != nil {
			t.Fatalf("Seek(%v): %v", want, err)
		}
		if got := p.CurrentTime(); !approx(got, want) {
			t.Errorf("Seek(%v) read back %v", want, got)
		}
	}
}

func TestSeekClamps(t *testing.T) {
	p, media, _ := newTestPlayer(t, 60)

	p.Seek(-5)
	if got := p.CurrentTime(); got != 0 {
		t.Errorf("Seek(-5) = %v, want 0", got)
	}
	p.Seek(500)
	if got := p.CurrentTime(); got != 60 {
		t.Errorf("Seek(500) = %v, want 60", got)
	}
	if media.CurrentTime() != 60 {
		t.Errorf("media time = %v, want 60", media.CurrentTime())
	}
}

func TestSeekUnknownDuration(t *testing.T) {
	p, _, _ := newTestPlayer(t, 0)

	p.Seek(500)
	if got := p.CurrentTime(); got != 500 {
		t.Errorf("Seek(500) with unknown duration = %v, want 500", got)
	}
}

func TestSkipStaysInBounds(t *testing.T) {
	p, _, _ := newTestPlayer(t, 25)

	for i := 0; i < 5; i++ {
		p.SkipForward()
		if got := p.CurrentTime(); got < 0 || got > 25 {
			t.Fatalf("after %d skips forward: %v out of bounds", i+1, got)
		}
	}
	if got := p.CurrentTime(); got != 25 {
		t.Errorf("after skipping forward = %v, want 25", got)
	}

	p.SkipBack()
	if got := p.CurrentTime(); got != 15 {
		t.Errorf("after skip back = %v, want 15", got)
	}
	for i := 0; i < 5; i++ {
		p.SkipBack()
	}
	if got := p.CurrentTime(); got != 0 {
		t.Errorf("after skipping back = %v, want 0", got)
	}
}

func TestSetDisabledPauses(t *testing.T) {
	p, media, rec := newTestPlayer(t, 100)

	if err := p.SetPlaying(true); err != nil {
		t.Fatalf("SetPlaying: %v", err)
	}
	media.advance(3)
	p.Tick()

	p.SetDisabled(true)
	st := p.State()
	if st.IsPlaying {
		t.Error("disabled player should not be playing")
	}
	if !st.Disabled {
		t.Error("state should report disabled")
	}
	if media.Playing() {
		t.Error("media should be paused")
	}
	if got := rec.states[len(rec.states)-1]; got {
		t.Error("last play-state notification should be false")
	}
}

func TestSetDisabledWhilePaused(t *testing.T) {
	p, _, rec := newTestPlayer(t, 100)

	p.SetDisabled(true)
	if p.State().IsPlaying {
		t.Error("disabled player should not be playing")
	}
	if len(rec.states) != 0 {
		t.Errorf("no play-state change expected, got %v", rec.states)
	}
}

func TestDisabledSuppressesTimeUpdates(t *testing.T) {
	p, media, rec := newTestPlayer(t, 100)

	p.SetDisabled(true)
	media.advance(5)
	p.Tick()
	media.advance(5)
	p.Tick()

	if len(rec.times) != 0 {
		t.Errorf("time updates while disabled: %v", rec.times)
	}
}

func TestDisabledRejectsInteraction(t *testing.T) {
	p, _, _ := newTestPlayer(t, 100)
	p.SetDisabled(true)

	if err := p.SetPlaying(true); !errors.Is(err, ErrDisabled) {
		t.Errorf("SetPlaying err = %v, want ErrDisabled", err)
	}
	if err := p.Seek(10); !errors.Is(err, ErrDisabled) {
		t.Errorf("Seek err = %v, want ErrDisabled", err)
	}
	if err := p.SkipForward(); !errors.Is(err, ErrDisabled) {
		t.Errorf("SkipForward err = %v, want ErrDisabled", err)
	}
}

func TestEnableDoesNotResume(t *testing.T) {
	p, _, _ := newTestPlayer(t, 100)
	p.SetPlaying(true)
	p.SetDisabled(true)
	p.SetDisabled(false)

	if p.State().IsPlaying {
		t.Error("re-enabling should not resume playback")
	}
}

func TestRestoreTimeDoesNotNotify(t *testing.T) {
	p, media, rec := newTestPlayer(t, 100)
	p.Seek(40)
	rec.times = nil

	p.RestoreTime(12.5)
	p.Tick()

	if len(rec.times) != 0 {
		t.Errorf("RestoreTime emitted %v", rec.times)
	}
	if got := p.CurrentTime(); got != 12.5 {
		t.Errorf("CurrentTime = %v, want 12.5", got)
	}
	if media.CurrentTime() != 12.5 {
		t.Errorf("media time = %v, want 12.5", media.CurrentTime())
	}

	// Later clock movement is reported again.
	media.advance(1)
	p.Tick()
	if len(rec.times) != 1 || !approx(rec.times[0], 13.5) {
		t.Errorf("times after advance = %v, want [13.5]", rec.times)
	}
}

func TestRestoreTimeWhileDisabled(t *testing.T) {
	p, _, rec := newTestPlayer(t, 100)
	p.Seek(70)
	rec.times = nil
	p.SetDisabled(true)

	p.RestoreTime(30)
	if got := p.CurrentTime(); got != 30 {
		t.Errorf("CurrentTime = %v, want 30", got)
	}
	p.SetDisabled(false)
	p.Tick()
	if len(rec.times) != 0 {
		t.Errorf("unexpected time updates %v", rec.times)
	}
}

func TestTickEmitsTimeUpdates(t *testing.T) {
	p, media, rec := newTestPlayer(t, 100)
	p.SetPlaying(true)

	media.advance(0.5)
	p.Tick()
	p.Tick() // unchanged clock
	media.advance(0.5)
	p.Tick()

	if len(rec.times) != 2 || !approx(rec.times[0], 0.5) || !approx(rec.times[1], 1) {
		t.Errorf("times = %v, want [0.5 1]", rec.times)
	}
}

func TestMediaEndStopsPlaying(t *testing.T) {
	p, media, rec := newTestPlayer(t, 10)
	p.SetPlaying(true)

	media.advance(10)
	media.stop(nil)
	p.Tick()

	if p.State().IsPlaying {
		t.Error("player should stop when media ends")
	}
	if got := rec.states; len(got) != 2 || got[0] != true || got[1] != false {
		t.Errorf("states = %v, want [true false]", got)
	}
}

func TestMediaErrorSurfaces(t *testing.T) {
	p, media, _ := newTestPlayer(t, 10)
	p.SetPlaying(true)

	media.stop(errors.New("decode failed"))
	p.Tick()

	if p.State().IsPlaying {
		t.Error("player should stop on media error")
	}
	if p.Err() == nil {
		t.Error("Err should report the media error")
	}
}

func TestLoadReleasesPreviousOnce(t *testing.T) {
	var opened []*fakeMedia
	open := func(ctx context.Context, source string) (Media, error) {
		m := &fakeMedia{duration: 30}
		opened = append(opened, m)
		return m, nil
	}
	p := New(open, Handlers{}, nil)

	ctx := context.Background()
	p.Load(ctx, "a.mp3")
	p.Load(ctx, "b.mp3")
	p.Load(ctx, "c.mp3")

	if opened[0].closes != 1 || opened[1].closes != 1 {
		t.Errorf("superseded closes = %d, %d; want 1, 1", opened[0].closes, opened[1].closes)
	}
	if opened[2].closes != 0 {
		t.Errorf("current media closed %d times before Close", opened[2].closes)
	}

	p.Close()
	p.Close()
	if opened[2].closes != 1 {
		t.Errorf("current media closes = %d, want 1", opened[2].closes)
	}
}

func TestLoadResetsPosition(t *testing.T) {
	p, _, _ := newTestPlayer(t, 100)
	p.Seek(50)
	p.SetPlaying(true)

	if err := p.Load(context.Background(), "other.mp3"); err != nil {
		t.Fatal(err)
	}
	st := p.State()
	if st.CurrentTime != 0 || st.IsPlaying {
		t.Errorf("state after load = %+v", st)
	}
	if st.Source != "other.mp3" {
		t.Errorf("source = %q", st.Source)
	}
}

func TestLoadOpenError(t *testing.T) {
	open := func(ctx context.Context, source string) (Media, error) {
		return nil, errors.New("no such file")
	}
	p := New(open, Handlers{}, nil)
	if err := p.Load(context.Background(), "missing.mp3"); err == nil {
		t.Fatal("expected error")
	}
	if err := p.SetPlaying(true); !errors.Is(err, ErrNoSource) {
		t.Errorf("SetPlaying err = %v, want ErrNoSource", err)
	}
}
