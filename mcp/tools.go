package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/db"
)

const serverVersion = "0.1.0"

// toolBackend is the part of the backend client the tools use.
type toolBackend interface {
	Context(ctx context.Context, timestamp float64, fileName string) (*backend.ContextData, error)
	Timestamps(ctx context.Context, contextText, fileName string) (backend.Timestamps, error)
	Notes(ctx context.Context) ([]backend.Note, error)
	AddNote(ctx context.Context, bookName, note string) error
	Files(ctx context.Context) ([]string, error)
}

// bookStore reads the listener's saved positions and conversations.
type bookStore interface {
	Books(ctx context.Context) ([]db.BookState, error)
	Book(ctx context.Context, fileName string) (*db.BookState, error)
	LinesForSession(ctx context.Context, sessionID string) ([]db.ConversationLine, error)
}

type tools struct {
	backend toolBackend
	books   bookStore // may be nil
	log     *slog.Logger
}

func newServer(b toolBackend, books bookStore, log *slog.Logger) *server.MCPServer {
	t := &tools{backend: b, books: books, log: log}
	s := server.NewMCPServer("book-buddy", serverVersion, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("get_context",
		mcp.WithDescription("Transcript of an audiobook from the start up to a playback position"),
		mcp.WithNumber("timestamp", mcp.Required(), mcp.Description("Playback position in seconds")),
		mcp.WithString("file_name", mcp.Description("Backend file name of the book")),
	), t.getContext)

	s.AddTool(mcp.NewTool("find_timestamps",
		mcp.WithDescription("Audio time range, in seconds, where a transcript passage is spoken"),
		mcp.WithString("context_text", mcp.Required(), mcp.Description("Exact transcript text")),
		mcp.WithString("file_name", mcp.Description("Backend file name of the book")),
	), t.findTimestamps)

	s.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("Saved listener notes, optionally for one book"),
		mcp.WithString("book_name", mcp.Description("Only notes for this book")),
	), t.listNotes)

	s.AddTool(mcp.NewTool("add_note",
		mcp.WithDescription("Save a note about a book"),
		mcp.WithString("book_name", mcp.Required(), mcp.Description("Book the note is about")),
		mcp.WithString("note", mcp.Required(), mcp.Description("Note text")),
	), t.addNote)

	s.AddTool(mcp.NewTool("list_books",
		mcp.WithDescription("Uploaded audiobooks with the listener's saved position"),
	), t.listBooks)

	s.AddTool(mcp.NewTool("get_conversation",
		mcp.WithDescription("Transcript of the last voice conversation about a book"),
		mcp.WithString("file_name", mcp.Required(), mcp.Description("Backend file name of the book")),
	), t.getConversation)

	return s
}

func (t *tools) getContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ts, err := req.RequireFloat("timestamp")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := t.backend.Context(ctx, ts, req.GetString("file_name", ""))
	if err != nil {
		return t.fail("get_context", err), nil
	}
	return jsonResult(data)
}

func (t *tools) findTimestamps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("context_text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	span, err := t.backend.Timestamps(ctx, text, req.GetString("file_name", ""))
	if err != nil {
		return t.fail("find_timestamps", err), nil
	}
	return jsonResult(span)
}

func (t *tools) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	notes, err := t.backend.Notes(ctx)
	if err != nil {
		return t.fail("list_notes", err), nil
	}
	book := strings.TrimSpace(req.GetString("book_name", ""))
	out := []backend.Note{}
	for _, n := range notes {
		if book == "" || strings.EqualFold(n.BookName, book) {
			out = append(out, n)
		}
	}
	return jsonResult(out)
}

func (t *tools) addNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	book, err := req.RequireString("book_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	note, err := req.RequireString("note")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if strings.TrimSpace(note) == "" {
		return mcp.NewToolResultError("note is empty"), nil
	}
	if err := t.backend.AddNote(ctx, book, note); err != nil {
		return t.fail("add_note", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Saved note for %s.", book)), nil
}

type bookEntry struct {
	FileName  string  `json:"file_name"`
	Title     string  `json:"title,omitempty"`
	Position  float64 `json:"position"`
	SessionID string  `json:"session_id,omitempty"`
}

func (t *tools) listBooks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	files, err := t.backend.Files(ctx)
	if err != nil {
		return t.fail("list_books", err), nil
	}

	saved := map[string]db.BookState{}
	if t.books != nil {
		states, err := t.books.Books(ctx)
		if err != nil {
			t.log.Warn("read saved books", "error", err)
		}
		for _, s := range states {
			saved[s.FileName] = s
		}
	}

	out := []bookEntry{}
	for _, f := range backend.AudioFiles(files) {
		e := bookEntry{FileName: f}
		if s, ok := saved[f]; ok {
			e.Title = s.Title
			e.Position = s.Position
			e.SessionID = s.SessionID
		}
		out = append(out, e)
	}
	return jsonResult(out)
}

type lineEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

func (t *tools) getConversation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	fileName, err := req.RequireString("file_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if t.books == nil {
		return mcp.NewToolResultError("local store unavailable"), nil
	}
	book, err := t.books.Book(ctx, fileName)
	if err != nil {
		return t.fail("get_conversation", err), nil
	}
	if book == nil || book.SessionID == "" {
		return mcp.NewToolResultText(fmt.Sprintf("No saved conversation for %s.", fileName)), nil
	}
	lines, err := t.books.LinesForSession(ctx, book.SessionID)
	if err != nil {
		return t.fail("get_conversation", err), nil
	}
	out := make([]lineEntry, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineEntry{Role: l.Role, Text: l.Text, At: l.CreatedAt})
	}
	return jsonResult(out)
}

func (t *tools) fail(tool string, err error) *mcp.CallToolResult {
	t.log.Warn("tool failed", "tool", tool, "error", err)
	return mcp.NewToolResultErrorFromErr(tool+" failed", err)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
