package player

import (
	"context"
	"testing"
	"time"
)

func TestFFplayOpenerMissingProbe(t *testing.T) {
	open := NewFFplayOpener(FFplayConfig{FFprobePath: "/nonexistent/ffprobe"})
	if _, err := open(context.Background(), "book.mp3"); err == nil {
		t.Fatal("expected error for missing ffprobe")
	}
}

func TestFFplayOpenerEmptySource(t *testing.T) {
	open := NewFFplayOpener(FFplayConfig{})
	if _, err := open(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty source")
	}
}

func TestFFplayPausedClock(t *testing.T) {
	f := &FFplay{cfg: FFplayConfig{FFplayPath: "/nonexistent/ffplay"}, duration: 60, now: time.Now}

	if err := f.Seek(12); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := f.CurrentTime(); got != 12 {
		t.Errorf("CurrentTime = %v, want 12", got)
	}
	if f.Playing() {
		t.Error("seek while paused should not start playback")
	}
}

func TestFFplayStartFailure(t *testing.T) {
	f := &FFplay{cfg: FFplayConfig{FFplayPath: "/nonexistent/ffplay"}, duration: 60, now: time.Now}

	if err := f.Play(); err == nil {
		t.Fatal("expected start error")
	}
	if f.Playing() {
		t.Error("failed start should not be playing")
	}
	if f.Err() == nil {
		t.Error("Err should report the start failure")
	}
}

func TestFFplayRunningClock(t *testing.T) {
	start := time.Unix(1000, 0)
	now := start
	f := &FFplay{duration: 30, now: func() time.Time { return now }}
	f.running = true
	f.base = 5
	f.startedAt = start

	now = start.Add(2500 * time.Millisecond)
	if got := f.CurrentTime(); got != 7.5 {
		t.Errorf("CurrentTime = %v, want 7.5", got)
	}
	now = start.Add(time.Minute)
	if got := f.CurrentTime(); got != 30 {
		t.Errorf("CurrentTime past end = %v, want 30", got)
	}
}

func TestFFplayCloseIdempotent(t *testing.T) {
	f := &FFplay{duration: 10, now: time.Now}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Play(); err == nil {
		t.Error("Play after Close should fail")
	}
}
