// Package arbiter decides which subsystem drives playback: the listener at
// the keyboard or the voice session. It also restores the book position
// around agent-initiated chunk playback.
package arbiter

import (
	"fmt"
	"log/slog"
	"sync"
)

// Owner identifies who drives playback.
type Owner int

const (
	OwnerListener Owner = iota
	OwnerVoice
)

func (o Owner) String() string {
	switch o {
	case OwnerListener:
		return "listener"
	case OwnerVoice:
		return "voice"
	default:
		return fmt.Sprintf("owner(%d)", int(o))
	}
}

// Target is the player being arbitrated.
type Target interface {
	SetDisabled(disabled bool)
	CurrentTime() float64
	RestoreTime(t float64)
}

// Arbiter owns the player's disabled flag. The listener owns playback unless
// the voice session has acquired it.
type Arbiter struct {
	target Target
	log    *slog.Logger

	mu    sync.Mutex
	owner Owner
}

// New returns an arbiter with the listener in control.
func New(target Target, log *slog.Logger) *Arbiter {
	if log == nil {
		log = slog.Default()
	}
	return &Arbiter{target: target, log: log, owner: OwnerListener}
}

// Owner reports who currently drives playback.
func (a *Arbiter) Owner() Owner {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owner
}

// Acquire hands playback to owner. Acquiring for voice disables the player.
// Re-acquiring for the current owner is a no-op.
func (a *Arbiter) Acquire(owner Owner) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner == owner {
		return
	}
	a.log.Debug("playback acquired", "owner", owner, "previous", a.owner)
	a.owner = owner
	a.target.SetDisabled(owner == OwnerVoice)
}

// Release returns playback to the listener if owner still holds it. Releasing
// twice, or releasing an owner that does not hold playback, is a no-op.
func (a *Arbiter) Release(owner Owner) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.owner != owner || owner == OwnerListener {
		return
	}
	a.log.Debug("playback released", "owner", owner)
	a.owner = OwnerListener
	a.target.SetDisabled(false)
}

// Guard snapshots the player position, runs fn, and restores the snapshot
// whether fn succeeds or fails. The restore is a state update, not a seek, so
// it works while the player is disabled.
func (a *Arbiter) Guard(fn func() error) error {
	p := a.target.CurrentTime()
	defer a.target.RestoreTime(p)
	return fn()
}
