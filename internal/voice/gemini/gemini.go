// Package gemini implements the voice platform on the Gemini Live API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/d-kavaliou/book-buddy/internal/voice"
)

const (
	// DefaultModel is the native-audio live model.
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-12-2025"
	// InputSampleRate is the microphone rate Gemini expects.
	InputSampleRate = 16000
	// OutputSampleRate is the rate of Gemini's audio responses.
	OutputSampleRate = 24000

	defaultVoice = "Zephyr"
)

// Config configures the platform.
type Config struct {
	APIKey string
	Model  string
	Voice  string
	Output voice.AudioOutput
	Log    *slog.Logger
}

// Platform opens Gemini Live sessions. Gemini keeps no server-side history,
// so History always fails and the controller proceeds without it.
type Platform struct {
	cfg Config

	mu     sync.Mutex
	client *genai.Client
}

// New returns a platform for cfg. The client is created on first use.
func New(cfg Config) *Platform {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Platform{cfg: cfg}
}

// ErrNoHistory is returned by History.
var ErrNoHistory = errors.New("gemini live keeps no conversation history")

func (p *Platform) History(ctx context.Context, sessionID string) (string, error) {
	return "", ErrNoHistory
}

func (p *Platform) genaiClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	p.client = client
	return client, nil
}

// StartSession connects a live session seeded through the system instruction.
func (p *Platform) StartSession(ctx context.Context, req voice.StartRequest) (voice.Session, error) {
	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, err
	}

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: SystemPrompt(req.Variables)}},
		},
		Tools: tools(req.Tools),
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.cfg.Voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	live, err := client.Live.Connect(ctx, p.cfg.Model, config)
	if err != nil {
		return nil, fmt.Errorf("connect live: %w", err)
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:     uuid.NewString(),
		live:   live,
		tools:  req.Tools,
		cb:     req.Callbacks,
		output: p.cfg.Output,
		log:    p.cfg.Log,
		ctx:    sessCtx,
		cancel: cancel,
	}
	if req.FirstMessage != "" {
		if err := s.greet(req.FirstMessage); err != nil {
			endAfterFailure(p.cfg.Log, s.End)
			return nil, err
		}
	}

	go s.receive()
	p.cfg.Log.Info("gemini live connected", "model", p.cfg.Model, "session_id", s.id)
	if s.cb.OnConnect != nil {
		s.cb.OnConnect(s.id)
	}
	return s, nil
}

// endAfterFailure ends a session that could not be set up. A close error is
// logged; the setup error is what the caller reports.
func endAfterFailure(log *slog.Logger, end func() error) {
	if err := end(); err != nil {
		log.Warn("close live session after failed setup", "error", err)
	}
}

// SystemPrompt renders the seed variables into the instruction Gemini gets in
// place of dynamic variables.
func SystemPrompt(vars map[string]string) string {
	var b strings.Builder
	b.WriteString("You are a friendly reading companion talking with a listener about an audiobook.\n")
	if name := vars["book_name"]; name != "" {
		fmt.Fprintf(&b, "The book is %q.\n", name)
	}
	b.WriteString("Only discuss what the listener has already heard; never reveal later events.\n")
	fmt.Fprintf(&b, "When quoting a passage would help, call %s with the exact transcript text to play it.\n", voice.PlayChunkTool)
	if c := vars["context"]; c != "" {
		fmt.Fprintf(&b, "\nTranscript so far (characters %s-%s):\n%s\n", vars["start_position"], vars["end_position"], c)
	}
	if h := vars["history"]; h != "" {
		fmt.Fprintf(&b, "\nYour previous conversation with the listener:\n%s\n", h)
	}

	var rest []string
	for k := range vars {
		switch k {
		case "book_name", "context", "start_position", "end_position", "history", "first_message":
			continue
		}
		rest = append(rest, k)
	}
	sort.Strings(rest)
	for _, k := range rest {
		fmt.Fprintf(&b, "%s: %s\n", k, vars[k])
	}
	return b.String()
}

func tools(fns map[string]voice.ToolFunc) []*genai.Tool {
	if _, ok := fns[voice.PlayChunkTool]; !ok {
		return nil
	}
	return []*genai.Tool{{
		FunctionDeclarations: []*genai.FunctionDeclaration{{
			Name:        voice.PlayChunkTool,
			Description: "Play the part of the audiobook matching a transcript passage, then return.",
			Parameters: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"contextText": {
						Type:        genai.TypeString,
						Description: "Exact transcript text of the passage to play.",
					},
				},
				Required: []string{"contextText"},
			},
		}},
	}}
}

type session struct {
	id     string
	live   *genai.Session
	tools  map[string]voice.ToolFunc
	cb     voice.Callbacks
	output voice.AudioOutput
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	sendMu sync.Mutex

	mu     sync.Mutex
	ending bool
}

func (s *session) ID() string { return s.id }

func (s *session) SendAudio(pcm []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate),
			Data:     pcm,
		},
	})
}

func (s *session) SetVolume(v float64) {
	if s.output != nil {
		s.output.SetVolume(v)
	}
}

func (s *session) End() error {
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return nil
	}
	s.ending = true
	s.mu.Unlock()

	s.cancel()
	if s.output != nil {
		s.output.Flush()
	}
	return s.live.Close()
}

// greet asks the model to open with msg.
func (s *session) greet(msg string) error {
	turnComplete := true
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.live.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{{
			Role:  "user",
			Parts: []*genai.Part{{Text: fmt.Sprintf("Greet me with exactly: %q", msg)}},
		}},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	return nil
}

func (s *session) receive() {
	for {
		resp, err := s.live.Receive()
		if err != nil {
			s.mu.Lock()
			ending := s.ending
			s.mu.Unlock()
			if ending {
				s.disconnect(voice.DisconnectDetails{Reason: voice.ReasonUser})
				return
			}
			if s.cb.OnError != nil {
				s.cb.OnError(err)
			}
			s.disconnect(voice.DisconnectDetails{Reason: voice.ReasonError, Message: err.Error()})
			return
		}
		s.handle(resp)
		if resp.GoAway != nil {
			s.log.Info("gemini live going away", "time_left", resp.GoAway.TimeLeft)
		}
	}
}

func (s *session) handle(resp *genai.LiveServerMessage) {
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		go s.runTools(resp.ToolCall.FunctionCalls)
	}

	sc := resp.ServerContent
	if sc == nil {
		return
	}
	if sc.Interrupted && s.output != nil {
		s.output.Flush()
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData != nil && s.output != nil {
				s.output.Write(part.InlineData.Data)
			}
		}
	}
	if s.cb.OnMessage == nil {
		return
	}
	if sc.InputTranscription != nil && strings.TrimSpace(sc.InputTranscription.Text) != "" {
		s.cb.OnMessage(voice.Message{Role: voice.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && strings.TrimSpace(sc.OutputTranscription.Text) != "" {
		s.cb.OnMessage(voice.Message{Role: voice.RoleAgent, Text: sc.OutputTranscription.Text})
	}
}

func (s *session) runTools(calls []*genai.FunctionCall) {
	var responses []*genai.FunctionResponse
	for _, fc := range calls {
		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: callTool(s.ctx, s.tools, fc.Name, fc.Args),
		})
		s.log.Info("function call", "name", fc.Name, "id", fc.ID)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.live.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: responses}); err != nil {
		s.log.Warn("send tool response", "error", err)
	}
}

// callTool runs one tool and shapes its result the way Gemini expects:
// {"output": ...} on success, {"error": ...} on failure.
func callTool(ctx context.Context, fns map[string]voice.ToolFunc, name string, args map[string]any) map[string]any {
	fn, ok := fns[name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown function: %s", name)}
	}
	if args == nil {
		args = map[string]any{}
	}
	out, err := fn(ctx, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"output": out}
}

func (s *session) disconnect(d voice.DisconnectDetails) {
	if s.cb.OnDisconnect != nil {
		s.cb.OnDisconnect(d)
	}
}
