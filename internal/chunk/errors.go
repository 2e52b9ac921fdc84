package chunk

import "fmt"

// NoStreamError is returned when play_chunk runs without a loaded stream.
type NoStreamError struct{}

func (e *NoStreamError) Error() string { return "no audio stream available" }

// ChunkPlaybackError reports a failure of the independent chunk media. The
// primary player is not affected.
type ChunkPlaybackError struct {
	Source string
	Start  float64
	End    float64
	Err    error
}

func (e *ChunkPlaybackError) Error() string {
	return fmt.Sprintf("play chunk %.2f-%.2f of %s: %v", e.Start, e.End, e.Source, e.Err)
}

func (e *ChunkPlaybackError) Unwrap() error { return e.Err }
