// Package backend provides the client and wire types for the book-buddy
// backend: uploads, transcription status, transcript context, timestamp lookup
// and notes.
package backend

// ContextRequest asks for the transcript up to a playback position.
type ContextRequest struct {
	Timestamp float64 `json:"timestamp"`
	FileName  string  `json:"fileName,omitempty"`
}

// ContextData is the transcript excerpt for a playback position.
type ContextData struct {
	Context       string `json:"context"`
	StartPosition int    `json:"start_position"`
	EndPosition   int    `json:"end_position"`
}

// TimestampRequest asks for the audio span covering a transcript excerpt.
type TimestampRequest struct {
	ContextText string `json:"context_text"`
	FileName    string `json:"file_name,omitempty"`
}

// Timestamps is the audio span, in seconds, for a transcript excerpt.
type Timestamps struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
}

// UploadResult is returned by POST /upload.
type UploadResult struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	FileType string `json:"file_type"`
}

// Processing states reported by GET /status/{filename}.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// StatusResponse is returned by GET /status/{filename}.
type StatusResponse struct {
	Status string `json:"status"`
}

// Note is a saved listener note.
type Note struct {
	Date     string `json:"date"`
	BookName string `json:"book_name"`
	Note     string `json:"note"`
}

// NoteRequest adds a note for a book.
type NoteRequest struct {
	BookName string `json:"book_name"`
	Note     string `json:"note"`
}

// NotesResponse is returned by GET /api/get_notes.
type NotesResponse struct {
	Notes []Note `json:"notes"`
}

// errorBody matches the backend's error payload.
type errorBody struct {
	Detail string `json:"detail"`
}
