package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// startMockBackend serves handler and returns a client pointed at it.
func startMockBackend(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.Client())
}

func TestClientContext(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/context" {
			t.Errorf("got %s %s", r.Method, r.URL.Path)
		}
		var req ContextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Timestamp != 42.5 || req.FileName != "book.mp3" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(ContextData{Context: "Call me Ishmael.", StartPosition: 16, EndPosition: 21})
	})

	data, err := client.Context(context.Background(), 42.5, "book.mp3")
	if err != nil {
		t.Fatalf("Context: %v", err)
	}
	if data.Context != "Call me Ishmael." {
		t.Errorf("context = %q", data.Context)
	}
	if data.StartPosition != 16 || data.EndPosition != 21 {
		t.Errorf("positions = %d-%d, want 16-21", data.StartPosition, data.EndPosition)
	}
}

func TestClientContextError(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"detail":"Failed to get context: '7'"}`)
	})

	_, err := client.Context(context.Background(), 7, "book.mp3")
	var cfe *ContextFetchError
	if !errors.As(err, &cfe) {
		t.Fatalf("err = %v, want ContextFetchError", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Errorf("status error = %v", se)
	}
}

func TestClientTimestamps(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		var req TimestampRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ContextText != "the whale" || req.FileName != "book.mp3" {
			t.Errorf("request = %+v", req)
		}
		io.WriteString(w, `{"start_time": 5, "end_time": 8}`)
	})

	ts, err := client.Timestamps(context.Background(), "the whale", "book.mp3")
	if err != nil {
		t.Fatalf("Timestamps: %v", err)
	}
	if ts.StartTime != 5 || ts.EndTime != 8 {
		t.Errorf("timestamps = %+v", ts)
	}
}

func TestClientTimestampsInverted(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"start_time": 9, "end_time": 3}`)
	})

	_, err := client.Timestamps(context.Background(), "x", "book.mp3")
	var tfe *TimestampFetchError
	if !errors.As(err, &tfe) {
		t.Fatalf("err = %v, want TimestampFetchError", err)
	}
}

func TestClientUpload(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "ID3 fake" {
			t.Errorf("file data = %q", data)
		}
		if got := r.FormValue("file_type"); got != "audio" {
			t.Errorf("file_type = %q", got)
		}
		json.NewEncoder(w).Encode(UploadResult{Message: "File uploaded successfully", Filename: hdr.Filename, FileType: "audio"})
	})

	path := filepath.Join(t.TempDir(), "moby.mp3")
	if err := os.WriteFile(path, []byte("ID3 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := client.Upload(context.Background(), path, "audio")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Filename != "moby.mp3" {
		t.Errorf("filename = %q", res.Filename)
	}
}

func TestClientUploadMissingFile(t *testing.T) {
	client := New("http://127.0.0.1:0", nil)
	_, err := client.Upload(context.Background(), "/nonexistent/book.mp3", "audio")
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want UploadError", err)
	}
	if ue.FileName != "book.mp3" {
		t.Errorf("file name = %q", ue.FileName)
	}
}

func TestWaitProcessed(t *testing.T) {
	var calls atomic.Int32
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/book.mp3" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if calls.Add(1) < 3 {
			io.WriteString(w, `{"status":"processing"}`)
			return
		}
		io.WriteString(w, `{"status":"completed"}`)
	})

	if err := client.WaitProcessed(context.Background(), "book.mp3", time.Millisecond); err != nil {
		t.Fatalf("WaitProcessed: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("status calls = %d, want 3", got)
	}
}

func TestWaitProcessedFailed(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"failed"}`)
	})

	err := client.WaitProcessed(context.Background(), "book.mp3", time.Millisecond)
	var pe *ProcessingError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProcessingError", err)
	}
}

func TestWaitProcessedMissingFilename(t *testing.T) {
	client := New("http://127.0.0.1:0", nil)
	err := client.WaitProcessed(context.Background(), "", time.Millisecond)
	if !errors.Is(err, ErrMissingFilename) {
		t.Errorf("err = %v, want ErrMissingFilename", err)
	}
}

func TestWaitProcessedCancelled(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"processing"}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.WaitProcessed(ctx, "book.mp3", 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestClientNotes(t *testing.T) {
	client := startMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/get_notes":
			io.WriteString(w, `{"notes":[{"date":"2024-01-02 10:00:00","book_name":"Moby Dick","note":"whale!"}]}`)
		case "/api/add_note":
			var req NoteRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.BookName != "Moby Dick" || req.Note != "call back" {
				t.Errorf("note request = %+v", req)
			}
			io.WriteString(w, `{"notes":[]}`)
		default:
			http.NotFound(w, r)
		}
	})

	notes, err := client.Notes(context.Background())
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(notes) != 1 || notes[0].BookName != "Moby Dick" {
		t.Errorf("notes = %+v", notes)
	}

	if err := client.AddNote(context.Background(), "Moby Dick", "call back"); err != nil {
		t.Fatalf("AddNote: %v", err)
	}
}

func TestAudioFiles(t *testing.T) {
	got := AudioFiles([]string{"a.mp3", "a.mp3.txt", "a.mp3.json", ".DS_Store", "b.m4a"})
	if len(got) != 2 || got[0] != "a.mp3" || got[1] != "b.m4a" {
		t.Errorf("AudioFiles = %v", got)
	}
}

func TestAudioURL(t *testing.T) {
	client := New("http://localhost:8000/", nil)
	if got := client.AudioURL("my book.mp3"); got != "http://localhost:8000/uploads/my%20book.mp3" {
		t.Errorf("AudioURL = %q", got)
	}
	if got := client.AudioURL(""); got != "" {
		t.Errorf("AudioURL(\"\") = %q, want empty", got)
	}
}
