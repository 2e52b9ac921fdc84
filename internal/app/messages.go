package app

import (
	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/db"
	"github.com/d-kavaliou/book-buddy/internal/player"
	"github.com/d-kavaliou/book-buddy/internal/voice"
)

// LibraryLoadedMsg carries the book list from the backend.
type LibraryLoadedMsg struct {
	Files []string
	Err   error
}

// NotesLoadedMsg carries the saved notes.
type NotesLoadedMsg struct {
	Notes []backend.Note
	Err   error
}

// BookLoadedMsg is sent once a book's stream is open in the player.
type BookLoadedMsg struct {
	FileName string
	State    *db.BookState         // saved state, nil for a new book
	Lines    []db.ConversationLine // transcript of the last conversation
	Err      error
}

// UploadedMsg is sent when the command-line upload finished.
type UploadedMsg struct {
	Result backend.UploadResult
	Err    error
}

// ProcessedMsg is sent when the backend finished transcribing an upload.
type ProcessedMsg struct {
	FileName string
	Err      error
}

// PlayerTickMsg carries a player snapshot after a clock tick.
type PlayerTickMsg struct {
	State player.State
}

// PlayerEventMsg wraps a player notification.
type PlayerEventMsg struct {
	Event PlayerEvent
}

// PlayerActionMsg reports the result of a user playback action.
type PlayerActionMsg struct {
	Action string
	Err    error
}

// VoiceEventMsg wraps a conversation controller event.
type VoiceEventMsg struct {
	Event voice.Event
}

// VoiceStartedMsg reports the result of starting a conversation.
type VoiceStartedMsg struct {
	Err error
}

// VoiceStoppedMsg reports the result of stopping a conversation.
type VoiceStoppedMsg struct {
	Err error
}

// PositionSavedMsg reports a position write.
type PositionSavedMsg struct {
	Err error
}

// ClearNoticeMsg clears the notice with the given sequence number.
type ClearNoticeMsg struct {
	Seq int
}
