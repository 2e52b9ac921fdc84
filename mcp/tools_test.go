package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/db"
	"github.com/d-kavaliou/book-buddy/internal/logging"
)

type fakeBackend struct {
	contextTS   float64
	contextFile string
	notes       []backend.Note
	added       []backend.NoteRequest
	files       []string
	err         error
}

func (f *fakeBackend) Context(ctx context.Context, ts float64, fileName string) (*backend.ContextData, error) {
	f.contextTS, f.contextFile = ts, fileName
	if f.err != nil {
		return nil, &backend.ContextFetchError{Timestamp: ts, Err: f.err}
	}
	return &backend.ContextData{Context: "Call me Ishmael.", StartPosition: 0, EndPosition: 16}, nil
}

func (f *fakeBackend) Timestamps(ctx context.Context, text, fileName string) (backend.Timestamps, error) {
	return backend.Timestamps{StartTime: 5, EndTime: 8}, f.err
}

func (f *fakeBackend) Notes(ctx context.Context) ([]backend.Note, error) { return f.notes, f.err }

func (f *fakeBackend) AddNote(ctx context.Context, book, note string) error {
	f.added = append(f.added, backend.NoteRequest{BookName: book, Note: note})
	return f.err
}

func (f *fakeBackend) Files(ctx context.Context) ([]string, error) { return f.files, f.err }

type fakeBooks struct {
	books []db.BookState
	lines []db.ConversationLine
}

func (f *fakeBooks) Books(ctx context.Context) ([]db.BookState, error) { return f.books, nil }

func (f *fakeBooks) Book(ctx context.Context, name string) (*db.BookState, error) {
	for i := range f.books {
		if f.books[i].FileName == name {
			return &f.books[i], nil
		}
	}
	return nil, nil
}

func (f *fakeBooks) LinesForSession(ctx context.Context, id string) ([]db.ConversationLine, error) {
	var out []db.ConversationLine
	for _, l := range f.lines {
		if l.SessionID == id {
			out = append(out, l)
		}
	}
	return out, nil
}

func newTools(b *fakeBackend, books bookStore) *tools {
	return &tools{backend: b, books: books, log: logging.Discard()}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T", res.Content[0])
	}
	return tc.Text
}

func TestGetContext(t *testing.T) {
	b := &fakeBackend{}
	res, err := newTools(b, nil).getContext(context.Background(), call(map[string]any{
		"timestamp": 12.5,
		"file_name": "moby.mp3",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("error result: %s", resultText(t, res))
	}
	if b.contextTS != 12.5 || b.contextFile != "moby.mp3" {
		t.Errorf("request = %v %q", b.contextTS, b.contextFile)
	}
	var data backend.ContextData
	if err := json.Unmarshal([]byte(resultText(t, res)), &data); err != nil {
		t.Fatal(err)
	}
	if data.Context != "Call me Ishmael." || data.EndPosition != 16 {
		t.Errorf("data = %+v", data)
	}
}

func TestGetContextRequiresTimestamp(t *testing.T) {
	res, _ := newTools(&fakeBackend{}, nil).getContext(context.Background(), call(map[string]any{}))
	if !res.IsError {
		t.Error("missing timestamp should be a tool error")
	}
}

func TestBackendFailureIsToolError(t *testing.T) {
	b := &fakeBackend{err: errors.New("backend down")}
	res, err := newTools(b, nil).findTimestamps(context.Background(), call(map[string]any{"context_text": "x"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "backend down") {
		t.Errorf("result = %+v", res)
	}
}

func TestListNotesFiltersByBook(t *testing.T) {
	b := &fakeBackend{notes: []backend.Note{
		{BookName: "Moby Dick", Note: "whale"},
		{BookName: "Dune", Note: "spice"},
	}}
	res, _ := newTools(b, nil).listNotes(context.Background(), call(map[string]any{"book_name": "moby dick"}))

	var notes []backend.Note
	if err := json.Unmarshal([]byte(resultText(t, res)), &notes); err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Note != "whale" {
		t.Errorf("notes = %+v", notes)
	}
}

func TestAddNote(t *testing.T) {
	b := &fakeBackend{}
	tl := newTools(b, nil)

	res, _ := tl.addNote(context.Background(), call(map[string]any{"book_name": "Dune", "note": "  "}))
	if !res.IsError || len(b.added) != 0 {
		t.Error("empty note should be rejected")
	}

	res, _ = tl.addNote(context.Background(), call(map[string]any{"book_name": "Dune", "note": "spice"}))
	if res.IsError || len(b.added) != 1 || b.added[0].Note != "spice" {
		t.Errorf("added = %+v result = %s", b.added, resultText(t, res))
	}
}

func TestListBooksMergesSavedState(t *testing.T) {
	b := &fakeBackend{files: []string{"moby.mp3", "moby.txt", "dune.m4a"}}
	books := &fakeBooks{books: []db.BookState{{FileName: "moby.mp3", Title: "Moby Dick", Position: 93.5, SessionID: "conv-1"}}}

	res, _ := newTools(b, books).listBooks(context.Background(), call(nil))
	var entries []bookEntry
	if err := json.Unmarshal([]byte(resultText(t, res)), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Position != 93.5 || entries[0].SessionID != "conv-1" {
		t.Errorf("moby = %+v", entries[0])
	}
	if entries[1].FileName != "dune.m4a" || entries[1].Position != 0 {
		t.Errorf("dune = %+v", entries[1])
	}
}

func TestGetConversation(t *testing.T) {
	books := &fakeBooks{
		books: []db.BookState{
			{FileName: "moby.mp3", SessionID: "conv-2"},
			{FileName: "dune.m4a"},
		},
		lines: []db.ConversationLine{
			{SessionID: "conv-1", Role: "user", Text: "stale"},
			{SessionID: "conv-2", Role: "user", Text: "who is Ahab?"},
			{SessionID: "conv-2", Role: "agent", Text: "The captain."},
		},
	}
	tl := newTools(&fakeBackend{}, books)

	res, _ := tl.getConversation(context.Background(), call(map[string]any{"file_name": "moby.mp3"}))
	var lines []lineEntry
	if err := json.Unmarshal([]byte(resultText(t, res)), &lines); err != nil {
		t.Fatal(err)
	}
	if len(lines) != 2 || lines[0].Text != "who is Ahab?" || lines[1].Role != "agent" {
		t.Errorf("lines = %+v", lines)
	}

	res, _ = tl.getConversation(context.Background(), call(map[string]any{"file_name": "dune.m4a"}))
	if res.IsError || !strings.Contains(resultText(t, res), "No saved conversation") {
		t.Errorf("dune result = %s", resultText(t, res))
	}

	res, _ = newTools(&fakeBackend{}, nil).getConversation(context.Background(), call(map[string]any{"file_name": "moby.mp3"}))
	if !res.IsError {
		t.Error("missing store should be a tool error")
	}
}

func TestNewServerListsTools(t *testing.T) {
	s := newServer(&fakeBackend{}, nil, logging.Discard())
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"get_context", "find_timestamps", "list_notes", "add_note", "list_books", "get_conversation"} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tool %q not listed: %s", name, data)
		}
	}
}
