// Package db persists per-book listening state and conversation transcripts
// in a local SQLite database.
package db

import "time"

// BookState is what book-buddy remembers about a book.
type BookState struct {
	FileName  string
	Title     string
	Position  float64 // seconds
	SessionID string  // last voice conversation, for continuation
	UpdatedAt time.Time
}

// ConversationLine is one transcript line of a voice conversation.
type ConversationLine struct {
	SessionID string
	FileName  string
	Role      string
	Text      string
	CreatedAt time.Time
}
