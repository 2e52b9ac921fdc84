package app

import "github.com/d-kavaliou/book-buddy/internal/player"

// PlayerEventKind identifies a player notification.
type PlayerEventKind int

const (
	PlayerTimeUpdate PlayerEventKind = iota
	PlayerPlayState
)

// PlayerEvent is a player notification forwarded to the TUI.
type PlayerEvent struct {
	Kind    PlayerEventKind
	Time    float64
	Playing bool
}

// PlayerEvents adapts player handlers to a channel the TUI reads from.
// Handlers never block; notifications are dropped when the TUI falls behind.
type PlayerEvents struct {
	ch chan PlayerEvent
}

// NewPlayerEvents returns a notifier with a buffer of size events.
func NewPlayerEvents(size int) *PlayerEvents {
	if size <= 0 {
		size = 64
	}
	return &PlayerEvents{ch: make(chan PlayerEvent, size)}
}

// Handlers returns player handlers that feed the channel.
func (e *PlayerEvents) Handlers() player.Handlers {
	return player.Handlers{
		OnTimeUpdate: func(t float64) {
			e.send(PlayerEvent{Kind: PlayerTimeUpdate, Time: t})
		},
		OnPlayStateChange: func(playing bool) {
			e.send(PlayerEvent{Kind: PlayerPlayState, Playing: playing})
		},
	}
}

// C returns the notification channel.
func (e *PlayerEvents) C() <-chan PlayerEvent { return e.ch }

func (e *PlayerEvents) send(ev PlayerEvent) {
	select {
	case e.ch <- ev:
	default:
	}
}
