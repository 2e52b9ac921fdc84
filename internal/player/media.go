// Package player implements the timed audio player: a clamped, disable-able
// wrapper around a media primitive that reports time updates and play-state
// changes to its owner.
package player

import "context"

// Media is a playable audio source with its own clock.
type Media interface {
	Play() error
	Pause() error
	Seek(t float64) error
	CurrentTime() float64
	// Duration is 0 while unknown.
	Duration() float64
	Playing() bool
	// Err returns the last playback or decoding error, if any.
	Err() error
	Close() error
}

// Opener opens a media instance for a source (a path or URL).
type Opener func(ctx context.Context, source string) (Media, error)
