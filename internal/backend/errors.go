package backend

import (
	"errors"
	"fmt"
)

// ErrMissingFilename is returned when an operation needs a processed file name
// and none was given or returned.
var ErrMissingFilename = errors.New("missing filename")

// UploadError reports a failed upload.
type UploadError struct {
	FileName string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.FileName, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ProcessingError reports that a file could not be confirmed as processed:
// missing filename, a failed status request, or server-side failure.
type ProcessingError struct {
	FileName string
	Err      error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing %s: %v", e.FileName, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// ContextFetchError reports a failed transcript context lookup.
type ContextFetchError struct {
	Timestamp float64
	Err       error
}

func (e *ContextFetchError) Error() string {
	return fmt.Sprintf("fetch context at %.1fs: %v", e.Timestamp, e.Err)
}

func (e *ContextFetchError) Unwrap() error { return e.Err }

// TimestampFetchError reports a failed timestamp lookup for a transcript span.
type TimestampFetchError struct {
	ContextText string
	Err         error
}

func (e *TimestampFetchError) Error() string {
	return fmt.Sprintf("fetch timestamps: %v", e.Err)
}

func (e *TimestampFetchError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from the backend.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend status %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("backend status %d", e.Code)
}
