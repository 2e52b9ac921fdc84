package arbiter

import (
	"errors"
	"testing"
)

type fakeTarget struct {
	disabled     bool
	t            float64
	disableCalls int
	restores     []float64
}

func (f *fakeTarget) SetDisabled(d bool) {
	f.disabled = d
	f.disableCalls++
}

func (f *fakeTarget) CurrentTime() float64 { return f.t }

func (f *fakeTarget) RestoreTime(t float64) {
	f.t = t
	f.restores = append(f.restores, t)
}

func TestAcquireReleaseVoice(t *testing.T) {
	target := &fakeTarget{}
	a := New(target, nil)

	if a.Owner() != OwnerListener {
		t.Fatalf("initial owner = %v", a.Owner())
	}
	a.Acquire(OwnerVoice)
	if !target.disabled {
		t.Error("voice ownership should disable the player")
	}
	if a.Owner() != OwnerVoice {
		t.Errorf("owner = %v, want voice", a.Owner())
	}

	a.Release(OwnerVoice)
	if target.disabled {
		t.Error("release should re-enable the player")
	}
	if a.Owner() != OwnerListener {
		t.Errorf("owner = %v, want listener", a.Owner())
	}
}

func TestReleaseIdempotent(t *testing.T) {
	target := &fakeTarget{}
	a := New(target, nil)

	a.Acquire(OwnerVoice)
	a.Acquire(OwnerVoice)
	a.Release(OwnerVoice)
	a.Release(OwnerVoice)
	a.Release(OwnerListener)

	if target.disableCalls != 2 {
		t.Errorf("SetDisabled calls = %d, want 2", target.disableCalls)
	}
}

func TestGuardRestoresOnSuccess(t *testing.T) {
	target := &fakeTarget{t: 42.5}
	a := New(target, nil)

	err := a.Guard(func() error {
		target.t = 8 // chunk playback displaced the clock
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if target.t != 42.5 {
		t.Errorf("position = %v, want 42.5", target.t)
	}
}

func TestGuardRestoresOnError(t *testing.T) {
	target := &fakeTarget{t: 17}
	a := New(target, nil)
	boom := errors.New("boom")

	err := a.Guard(func() error {
		target.t = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if target.t != 17 {
		t.Errorf("position = %v, want 17", target.t)
	}
}

func TestGuardWhileDisabled(t *testing.T) {
	target := &fakeTarget{t: 3}
	a := New(target, nil)
	a.Acquire(OwnerVoice)

	a.Guard(func() error { return nil })
	if len(target.restores) != 1 || target.restores[0] != 3 {
		t.Errorf("restores = %v, want [3]", target.restores)
	}
	if !target.disabled {
		t.Error("guard should not re-enable the player")
	}
}
