// Package chunk plays a bounded span of a book, located by its transcript
// text, on a media instance separate from the main player.
package chunk

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/metrics"
	"github.com/d-kavaliou/book-buddy/internal/player"
)

const (
	// DefaultSettleDelay is the wait before touching a freshly requested stream.
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultFrameInterval is the position poll period.
	DefaultFrameInterval = 16 * time.Millisecond
)

// StatusSuccess is the only status a completed chunk reports.
const StatusSuccess = "success"

// TimestampLookup resolves a transcript span to its audio time range.
type TimestampLookup interface {
	Timestamps(ctx context.Context, contextText, fileName string) (backend.Timestamps, error)
}

// Request identifies the span to play and the stream to play it from.
type Request struct {
	ContextText string
	Source      string // stream URL or path
	FileName    string // backend file name used for the lookup
}

// PlayedChunk is the span that was actually played.
type PlayedChunk struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Result is reported back to the voice agent.
type Result struct {
	Status      string      `json:"status"`
	PlayedChunk PlayedChunk `json:"playedChunk"`
}

// Config tunes timing. Zero values take the defaults, except a negative
// SettleDelay which disables the wait.
type Config struct {
	SettleDelay   time.Duration
	FrameInterval time.Duration
}

// Player plays chunks. It holds no per-chunk state; callers run one chunk at a
// time.
type Player struct {
	lookup        TimestampLookup
	open          player.Opener
	settleDelay   time.Duration
	frameInterval time.Duration
	log           *slog.Logger
}

// New creates a chunk player.
func New(lookup TimestampLookup, open player.Opener, cfg Config, log *slog.Logger) *Player {
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		lookup:        lookup,
		open:          open,
		settleDelay:   cfg.SettleDelay,
		frameInterval: cfg.FrameInterval,
		log:           log,
	}
}

// PlayChunk plays the span of req.ContextText and returns once the media
// clock reaches the span's end.
func (p *Player) PlayChunk(ctx context.Context, req Request) (Result, error) {
	started := time.Now()
	res, err := p.playChunk(ctx, req)
	metrics.ChunkDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.ChunksPlayed.WithLabelValues(outcome(err)).Inc()
		p.log.Warn("play chunk failed", "text", req.ContextText, "error", err)
		return Result{}, err
	}
	metrics.ChunksPlayed.WithLabelValues("success").Inc()
	p.log.Info("chunk played",
		"start", res.PlayedChunk.Start,
		"end", res.PlayedChunk.End,
		"elapsed", time.Since(started))
	return res, nil
}

func (p *Player) playChunk(ctx context.Context, req Request) (Result, error) {
	if req.Source == "" {
		return Result{}, &NoStreamError{}
	}

	if err := sleep(ctx, p.settleDelay); err != nil {
		return Result{}, err
	}

	ts, err := p.lookup.Timestamps(ctx, req.ContextText, req.FileName)
	if err != nil {
		var tfe *backend.TimestampFetchError
		if !errors.As(err, &tfe) {
			err = &backend.TimestampFetchError{ContextText: req.ContextText, Err: err}
		}
		return Result{}, err
	}

	fail := func(err error) (Result, error) {
		return Result{}, &ChunkPlaybackError{Source: req.Source, Start: ts.StartTime, End: ts.EndTime, Err: err}
	}

	media, err := p.open(ctx, req.Source)
	if err != nil {
		return fail(err)
	}
	defer media.Close()

	if err := media.Seek(ts.StartTime); err != nil {
		return fail(err)
	}
	if err := media.Play(); err != nil {
		return fail(err)
	}

	ticker := time.NewTicker(p.frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = media.Pause()
			return Result{}, ctx.Err()
		case <-ticker.C:
		}

		if err := media.Err(); err != nil {
			return fail(err)
		}
		t := media.CurrentTime()
		if t >= ts.EndTime {
			if err := media.Pause(); err != nil {
				return fail(err)
			}
			return success(req.ContextText, ts.StartTime, ts.EndTime), nil
		}
		if !media.Playing() {
			// Stream ended before the span did.
			if err := media.Err(); err != nil {
				return fail(err)
			}
			return success(req.ContextText, ts.StartTime, t), nil
		}
	}
}

func success(text string, start, end float64) Result {
	return Result{
		Status:      StatusSuccess,
		PlayedChunk: PlayedChunk{Text: text, Start: start, End: end},
	}
}

func outcome(err error) string {
	var (
		nse *NoStreamError
		tfe *backend.TimestampFetchError
		cpe *ChunkPlaybackError
	)
	switch {
	case errors.As(err, &nse):
		return "no_stream"
	case errors.As(err, &tfe):
		return "timestamp_error"
	case errors.As(err, &cpe):
		return "playback_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "error"
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
