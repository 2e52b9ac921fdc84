package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/d-kavaliou/book-buddy/internal/metrics"
)

// DefaultPollInterval is how often WaitProcessed asks for the status of an upload.
const DefaultPollInterval = 2 * time.Second

// Client talks to the book-buddy backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates an http.Client with a small idle pool, which is all a
// single listener needs.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          4,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// New returns a client for the backend at baseURL. A nil httpClient gets a
// default with a 60s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(60 * time.Second)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// AudioURL returns the streaming URL of an uploaded file.
func (c *Client) AudioURL(fileName string) string {
	if fileName == "" {
		return ""
	}
	return c.baseURL + "/uploads/" + url.PathEscape(fileName)
}

// Context returns the transcript up to timestamp for fileName.
func (c *Client) Context(ctx context.Context, timestamp float64, fileName string) (*ContextData, error) {
	var data ContextData
	req := ContextRequest{Timestamp: timestamp, FileName: fileName}
	if err := c.postJSON(ctx, "/api/context", req, &data); err != nil {
		return nil, &ContextFetchError{Timestamp: timestamp, Err: err}
	}
	return &data, nil
}

// Timestamps resolves the audio span of contextText within fileName.
func (c *Client) Timestamps(ctx context.Context, contextText, fileName string) (Timestamps, error) {
	var ts Timestamps
	req := TimestampRequest{ContextText: contextText, FileName: fileName}
	if err := c.postJSON(ctx, "/api/timestamps", req, &ts); err != nil {
		return Timestamps{}, &TimestampFetchError{ContextText: contextText, Err: err}
	}
	if ts.EndTime < ts.StartTime {
		return Timestamps{}, &TimestampFetchError{
			ContextText: contextText,
			Err:         fmt.Errorf("end %.2f before start %.2f", ts.EndTime, ts.StartTime),
		}
	}
	return ts, nil
}

// Upload sends the file at path as multipart form data.
func (c *Client) Upload(ctx context.Context, path, fileType string) (UploadResult, error) {
	name := filepath.Base(path)
	res, err := c.upload(ctx, path, fileType)
	if err != nil {
		return UploadResult{}, &UploadError{FileName: name, Err: err}
	}
	return res, nil
}

func (c *Client) upload(ctx context.Context, path, fileType string) (UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return UploadResult{}, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return UploadResult{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return UploadResult{}, fmt.Errorf("copy file: %w", err)
	}
	if fileType == "" {
		fileType = "unknown"
	}
	if err := mw.WriteField("file_type", fileType); err != nil {
		return UploadResult{}, fmt.Errorf("write file_type: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var res UploadResult
	if err := c.do(req, &res); err != nil {
		return UploadResult{}, err
	}
	return res, nil
}

// Status returns the processing status of an uploaded file.
func (c *Client) Status(ctx context.Context, fileName string) (string, error) {
	if fileName == "" {
		return "", &ProcessingError{Err: ErrMissingFilename}
	}
	var res StatusResponse
	if err := c.getJSON(ctx, "/status/"+url.PathEscape(fileName), &res); err != nil {
		return "", &ProcessingError{FileName: fileName, Err: err}
	}
	return res.Status, nil
}

// WaitProcessed polls the status of fileName every interval until it is
// completed, failed, or ctx is done.
func (c *Client) WaitProcessed(ctx context.Context, fileName string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, fileName)
		if err != nil {
			return err
		}
		switch status {
		case StatusCompleted:
			return nil
		case StatusFailed:
			return &ProcessingError{FileName: fileName, Err: fmt.Errorf("server reported failure")}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Notes returns all saved notes.
func (c *Client) Notes(ctx context.Context) ([]Note, error) {
	var res NotesResponse
	if err := c.getJSON(ctx, "/api/get_notes", &res); err != nil {
		return nil, fmt.Errorf("get notes: %w", err)
	}
	return res.Notes, nil
}

// AddNote saves a note for a book.
func (c *Client) AddNote(ctx context.Context, bookName, note string) error {
	req := NoteRequest{BookName: bookName, Note: note}
	if err := c.postJSON(ctx, "/api/add_note", req, nil); err != nil {
		return fmt.Errorf("add note: %w", err)
	}
	return nil
}

// Files lists everything in the backend's upload folder, including the
// transcript side files.
func (c *Client) Files(ctx context.Context) ([]string, error) {
	var files []string
	if err := c.getJSON(ctx, "/files", &files); err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// AudioFiles filters a Files listing down to the uploaded books, dropping the
// .txt and .json transcripts the backend stores next to them.
func AudioFiles(files []string) []string {
	var out []string
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f))
		if ext == ".txt" || ext == ".json" || strings.HasPrefix(f, ".") {
			continue
		}
		out = append(out, f)
	}
	return out
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	endpoint := endpointLabel(req.URL.Path)
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.BackendRequests.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	metrics.BackendRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var body errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body)
		return &StatusError{Code: resp.StatusCode, Detail: body.Detail}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// endpointLabel trims per-file path segments so /status/{filename} counts as
// one endpoint.
func endpointLabel(path string) string {
	for _, prefix := range []string{"/status/", "/uploads/"} {
		if strings.HasPrefix(path, prefix) {
			return strings.TrimSuffix(prefix, "/")
		}
	}
	return path
}
