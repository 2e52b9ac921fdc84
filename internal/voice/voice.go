// Package voice runs conversations with a remote voice agent about the book
// being played. The Controller owns the session lifecycle; platforms in the
// subpackages implement the wire protocols.
package voice

import (
	"context"

	"github.com/d-kavaliou/book-buddy/internal/arbiter"
	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/chunk"
)

// Status is the conversation state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusError      Status = "error"
)

// DisconnectReason says who ended a session.
type DisconnectReason string

const (
	ReasonUser  DisconnectReason = "user"
	ReasonAgent DisconnectReason = "agent"
	ReasonError DisconnectReason = "error"
)

// DisconnectDetails accompanies OnDisconnect.
type DisconnectDetails struct {
	Reason  DisconnectReason
	Message string
}

// Role of a transcript line.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a transcript line from the session.
type Message struct {
	Role Role
	Text string
}

// ToolFunc handles a client tool call from the agent. params are the decoded
// JSON arguments; the returned string is sent back as the tool result.
type ToolFunc func(ctx context.Context, params map[string]any) (string, error)

// PlayChunkTool is the client tool the agent calls to replay part of the book.
const PlayChunkTool = "play_chunk"

// Callbacks are invoked from the platform's receive goroutine.
type Callbacks struct {
	OnConnect    func(sessionID string)
	OnDisconnect func(DisconnectDetails)
	OnMessage    func(Message)
	OnError      func(error)
}

// StartRequest seeds a new remote session.
type StartRequest struct {
	// SessionID is the prior session being continued, if any.
	SessionID    string
	Variables    map[string]string
	FirstMessage string
	Tools        map[string]ToolFunc
	Callbacks    Callbacks
}

// Platform is a remote voice-conversation service.
type Platform interface {
	// StartSession connects and returns once the session is live.
	StartSession(ctx context.Context, req StartRequest) (Session, error)
	// History returns a plain-text transcript of a prior session.
	History(ctx context.Context, sessionID string) (string, error)
}

// Session is a live remote conversation.
type Session interface {
	ID() string
	SendAudio(pcm []byte) error
	SetVolume(v float64)
	// End closes the session. Ending twice is a no-op.
	End() error
}

// Microphone opens exclusive capture handles.
type Microphone interface {
	Acquire(ctx context.Context) (MicHandle, error)
}

// MicHandle is an open capture stream of 16-bit mono PCM frames.
type MicHandle interface {
	Frames() <-chan []byte
	Release() error
}

// ContextSource fetches the transcript up to a position.
type ContextSource interface {
	Context(ctx context.Context, timestamp float64, fileName string) (*backend.ContextData, error)
}

// Position reports the book position.
type Position interface {
	CurrentTime() float64
}

// PlaybackArbiter hands playback between the listener and the voice session.
type PlaybackArbiter interface {
	Acquire(owner arbiter.Owner)
	Release(owner arbiter.Owner)
	Guard(fn func() error) error
}

// ChunkPlayer plays a transcript span on demand.
type ChunkPlayer interface {
	PlayChunk(ctx context.Context, req chunk.Request) (chunk.Result, error)
}

// SessionRecorder persists the last session id of a book.
type SessionRecorder interface {
	RecordSession(ctx context.Context, fileName, sessionID string) error
}

// Book is what the conversation is about.
type Book struct {
	FileName string // backend file name
	Title    string
	Stream   string // URL the chunk player opens
}

// Name returns the title, falling back to the file name.
func (b Book) Name() string {
	if b.Title != "" {
		return b.Title
	}
	return b.FileName
}

// AudioOutput plays agent speech. Platforms write decoded 16-bit PCM at the
// rate the output was opened with.
type AudioOutput interface {
	Write(pcm []byte)
	// Flush drops queued audio, e.g. when the user interrupts.
	Flush()
	SetVolume(v float64)
}
