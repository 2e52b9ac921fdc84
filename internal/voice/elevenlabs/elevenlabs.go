package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/d-kavaliou/book-buddy/internal/voice"
)

const (
	// DefaultBaseURL is the public API root.
	DefaultBaseURL = "https://api.elevenlabs.io"
	// SampleRate of both the microphone input and agent audio (pcm_16000).
	SampleRate = 16000

	conversationPath = "/v1/convai/conversation"
	historyPath      = "/v1/convai/conversations/"
	writeTimeout     = 5 * time.Second
)

// Config configures the platform.
type Config struct {
	APIKey     string
	AgentID    string
	BaseURL    string // defaults to DefaultBaseURL
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Output     voice.AudioOutput // agent speech; may be nil
	Log        *slog.Logger
}

// Platform starts conversations with one ElevenLabs agent.
type Platform struct {
	cfg Config
}

// New returns a platform for cfg.
func New(cfg Config) *Platform {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Platform{cfg: cfg}
}

// StartSession dials the conversation socket, sends the initiation data and
// waits for the conversation id.
func (p *Platform) StartSession(ctx context.Context, req voice.StartRequest) (voice.Session, error) {
	if strings.TrimSpace(p.cfg.AgentID) == "" {
		return nil, fmt.Errorf("elevenlabs agent id is required")
	}
	wsURL, err := p.socketURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if p.cfg.APIKey != "" {
		header.Set("xi-api-key", p.cfg.APIKey)
	}

	conn, resp, err := p.cfg.Dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial conversation: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial conversation: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:   conn,
		tools:  req.Tools,
		cb:     req.Callbacks,
		output: p.cfg.Output,
		log:    p.cfg.Log,
		ctx:    sessCtx,
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}

	start := initiation{Type: typeInitiation, DynamicVariables: req.Variables}
	if req.FirstMessage != "" {
		start.Override = &configOverride{Agent: agentOverride{FirstMessage: req.FirstMessage}}
	}
	if err := s.writeJSON(start); err != nil {
		s.close()
		return nil, fmt.Errorf("send initiation: %w", err)
	}

	go s.readLoop()

	select {
	case <-s.ready:
		return s, nil
	case <-s.done:
		return nil, fmt.Errorf("conversation closed before start: %w", s.readErr())
	case <-ctx.Done():
		s.close()
		return nil, ctx.Err()
	}
}

// History fetches the transcript of a past conversation as "role: message"
// lines.
func (p *Platform) History(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return "", nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+historyPath+url.PathEscape(sessionID), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("get conversation: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var conv conversation
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	var lines []string
	for _, t := range conv.Transcript {
		if strings.TrimSpace(t.Message) == "" {
			continue
		}
		lines = append(lines, t.Role+": "+t.Message)
	}
	return strings.Join(lines, "\n"), nil
}

func (p *Platform) socketURL() (string, error) {
	u, err := url.Parse(p.cfg.BaseURL + conversationPath)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("agent_id", p.cfg.AgentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// session is one live conversation socket.
type session struct {
	conn   *websocket.Conn
	tools  map[string]voice.ToolFunc
	cb     voice.Callbacks
	output voice.AudioOutput
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu      sync.Mutex
	id      string
	ending  bool
	lastErr error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func (s *session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *session) SendAudio(pcm []byte) error {
	return s.writeJSON(audioChunk{UserAudioChunk: base64.StdEncoding.EncodeToString(pcm)})
}

func (s *session) SetVolume(v float64) {
	if s.output != nil {
		s.output.SetVolume(v)
	}
}

// End closes the socket without waiting for the read loop, so it is safe to
// call from a callback.
func (s *session) End() error {
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return nil
	}
	s.ending = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "user ended conversation"))
	s.writeMu.Unlock()

	s.close()
	if s.output != nil {
		s.output.Flush()
	}
	return nil
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		_ = s.conn.Close()
	})
}

func (s *session) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.log.Debug("undecodable server message", "error", err)
			continue
		}
		s.handle(msg)
	}
}

func (s *session) handle(msg serverMessage) {
	switch msg.Type {
	case typeMetadata:
		if msg.Metadata == nil {
			return
		}
		s.mu.Lock()
		s.id = msg.Metadata.ConversationID
		s.mu.Unlock()
		s.readyOnce.Do(func() { close(s.ready) })
		if s.cb.OnConnect != nil {
			s.cb.OnConnect(msg.Metadata.ConversationID)
		}

	case typeAudio:
		if msg.Audio == nil || s.output == nil {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio.AudioBase64)
		if err != nil {
			s.log.Debug("invalid audio base64", "error", err)
			return
		}
		s.output.Write(pcm)

	case typeAgentResponse:
		if msg.AgentResponse != nil && s.cb.OnMessage != nil {
			s.cb.OnMessage(voice.Message{Role: voice.RoleAgent, Text: msg.AgentResponse.Text})
		}

	case typeUserTranscript:
		if msg.UserTranscript != nil && s.cb.OnMessage != nil {
			s.cb.OnMessage(voice.Message{Role: voice.RoleUser, Text: msg.UserTranscript.Text})
		}

	case typeInterruption:
		if s.output != nil {
			s.output.Flush()
		}

	case typePing:
		if msg.Ping == nil {
			return
		}
		if err := s.writeJSON(pong{Type: typePong, EventID: msg.Ping.EventID}); err != nil {
			s.log.Debug("send pong", "error", err)
		}

	case typeToolCall:
		if msg.ToolCall == nil {
			return
		}
		go s.runTool(msg.ToolCall.ToolName, msg.ToolCall.ToolCallID, msg.ToolCall.Parameters)
	}
}

func (s *session) runTool(name, callID string, raw json.RawMessage) {
	res := toolResult{Type: typeToolResult, ToolCallID: callID}

	fn, ok := s.tools[name]
	params := map[string]any{}
	switch {
	case !ok:
		res.Result = fmt.Sprintf("unknown tool %q", name)
		res.IsError = true
	case len(raw) > 0 && string(raw) != "null" && json.Unmarshal(raw, &params) != nil:
		res.Result = "invalid tool parameters"
		res.IsError = true
	default:
		out, err := fn(s.ctx, params)
		if err != nil {
			res.Result = err.Error()
			res.IsError = true
		} else {
			res.Result = out
		}
	}

	s.log.Info("client tool call", "tool", name, "tool_call_id", callID, "is_error", res.IsError)
	if err := s.writeJSON(res); err != nil {
		s.log.Warn("send tool result", "tool", name, "error", err)
	}
}

// finish reports why the read loop ended.
func (s *session) finish(err error) {
	s.mu.Lock()
	ending := s.ending
	s.lastErr = err
	s.mu.Unlock()
	s.close()

	started := false
	select {
	case <-s.ready:
		started = true
	default:
	}
	if !started || s.cb.OnDisconnect == nil {
		return
	}

	details := voice.DisconnectDetails{Reason: voice.ReasonError, Message: err.Error()}
	var closeErr *websocket.CloseError
	switch {
	case ending:
		details = voice.DisconnectDetails{Reason: voice.ReasonUser}
	case errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure:
		details = voice.DisconnectDetails{Reason: voice.ReasonAgent, Message: closeErr.Text}
	}
	if details.Reason == voice.ReasonError && s.cb.OnError != nil {
		s.cb.OnError(err)
	}
	s.cb.OnDisconnect(details)
}

func (s *session) readErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return errors.New("no conversation id")
	}
	return s.lastErr
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}
