package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/d-kavaliou/book-buddy/internal/arbiter"
	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/chunk"
	"github.com/d-kavaliou/book-buddy/internal/metrics"
)

const (
	// minContextTime is the position below which there is nothing worth
	// grounding the agent with.
	minContextTime = 1.0

	// WelcomeBack is the agent's first line when continuing a conversation.
	WelcomeBack = "Welcome back! Shall we pick up where we left off?"

	defaultMicRetryDelay = 500 * time.Millisecond
	reconnectTimeout     = 30 * time.Second
	eventBuffer          = 128
)

// Deps are the collaborators of a Controller. Recorder may be nil.
type Deps struct {
	Platform Platform
	Mic      Microphone
	Contexts ContextSource
	Position Position
	Arbiter  PlaybackArbiter
	Chunks   ChunkPlayer
	Recorder SessionRecorder
	Log      *slog.Logger
}

// Options tune a Controller.
type Options struct {
	Volume        float64 // initial agent volume, 0-1
	MicRetryDelay time.Duration
}

// Controller runs the conversation lifecycle:
// idle -> connecting -> connected -> idle, with a single reconnect through
// error when the platform drops the connection.
//
// Every blocking step runs without the lock. Work started under one
// generation is discarded if Stop or a reconnect bumped the generation
// while it was suspended.
type Controller struct {
	platform      Platform
	mic           Microphone
	contexts      ContextSource
	position      Position
	arbiter       PlaybackArbiter
	chunks        ChunkPlayer
	recorder      SessionRecorder
	log           *slog.Logger
	micRetryDelay time.Duration
	events        chan Event

	mu            sync.Mutex
	status        Status
	gen           uint64
	startingGen   uint64
	book          Book
	session       Session
	micHandle     *micLease
	sessionCancel context.CancelFunc
	holdsPlayback bool
	lastSessionID string
	contextData   *backend.ContextData
	reconnectUsed bool
	volume        float64
}

// NewController creates an idle controller.
func NewController(deps Deps, opts Options) *Controller {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if opts.MicRetryDelay <= 0 {
		opts.MicRetryDelay = defaultMicRetryDelay
	}
	return &Controller{
		platform:      deps.Platform,
		mic:           deps.Mic,
		contexts:      deps.Contexts,
		position:      deps.Position,
		arbiter:       deps.Arbiter,
		chunks:        deps.Chunks,
		recorder:      deps.Recorder,
		log:           deps.Log,
		micRetryDelay: opts.MicRetryDelay,
		events:        make(chan Event, eventBuffer),
		status:        StatusIdle,
		volume:        clampVolume(opts.Volume),
	}
}

// Events delivers status changes, transcript lines, notices and resume
// requests. Events are dropped when the buffer is full.
func (c *Controller) Events() <-chan Event { return c.events }

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SessionID returns the last known remote session id.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSessionID
}

// ContextData returns the context the live session was seeded with, or nil.
func (c *Controller) ContextData() *backend.ContextData {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.contextData == nil {
		return nil
	}
	d := *c.contextData
	return &d
}

// SetBook sets the book later sessions talk about.
func (c *Controller) SetBook(b Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.book = b
}

// SetVolume sets the agent volume, 0-1, now and for later sessions.
func (c *Controller) SetVolume(v float64) {
	v = clampVolume(v)
	c.mu.Lock()
	c.volume = v
	sess := c.session
	c.mu.Unlock()
	if sess != nil {
		sess.SetVolume(v)
	}
}

// Start opens a conversation, continuing existingSessionID when set.
func (c *Controller) Start(ctx context.Context, existingSessionID string) error {
	c.mu.Lock()
	if c.startingGen != 0 {
		c.mu.Unlock()
		return ErrStartInFlight
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	if c.platform == nil {
		c.mu.Unlock()
		err := &SessionError{Op: "start", Err: errors.New("no voice platform configured")}
		c.emit(Event{Kind: EventNotice, Title: "Voice unavailable", Message: err.Error(), Err: err})
		return err
	}
	c.gen++
	gen := c.gen
	c.startingGen = gen
	c.reconnectUsed = false
	c.setStatusLocked(StatusConnecting)
	c.mu.Unlock()

	defer c.finishStart(gen)
	err := c.run(ctx, gen, existingSessionID, false)
	if errors.Is(err, errSuperseded) {
		return nil
	}
	return err
}

// Stop ends the conversation and hands playback back to the listener. It is
// safe to call in any state.
func (c *Controller) Stop() error {
	c.mu.Lock()
	active := c.status != StatusIdle || c.session != nil || c.holdsPlayback
	c.gen++
	c.startingGen = 0
	sess := c.detachLocked(false)
	c.setStatusLocked(StatusIdle)
	c.mu.Unlock()

	var err error
	if sess != nil {
		if endErr := sess.End(); endErr != nil {
			err = &SessionError{Op: "end", Err: endErr}
		}
	}
	if active {
		c.log.Info("conversation stopped")
		c.emit(Event{Kind: EventResume})
	}
	return err
}

func (c *Controller) finishStart(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startingGen == gen {
		c.startingGen = 0
	}
}

// run performs one start or reconnect under generation gen.
func (c *Controller) run(ctx context.Context, gen uint64, sessionID string, reconnect bool) error {
	book := c.currentBook()

	mic, err := c.acquireMic(ctx)
	if err != nil {
		return c.abort(gen, "Microphone unavailable", err)
	}
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		mic.Release()
		return errSuperseded
	}
	c.micHandle = mic
	c.holdsPlayback = true
	c.arbiter.Acquire(arbiter.OwnerVoice)
	c.mu.Unlock()

	data, err := c.fetchContext(ctx, book)
	if err != nil {
		return c.abort(gen, "Could not load book context", err)
	}
	if !c.current(gen) {
		return errSuperseded
	}

	history := ""
	if sessionID != "" {
		h, err := c.platform.History(ctx, sessionID)
		if err != nil {
			c.log.Info("conversation history unavailable", "session_id", sessionID, "error", err)
		} else {
			history = h
		}
		if !c.current(gen) {
			return errSuperseded
		}
	}
	firstMessage := ""
	if history != "" {
		firstMessage = WelcomeBack
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess, err := c.platform.StartSession(ctx, StartRequest{
		SessionID:    sessionID,
		Variables:    seedVariables(book, data, history, firstMessage),
		FirstMessage: firstMessage,
		Tools:        map[string]ToolFunc{PlayChunkTool: c.playChunkTool(book)},
		Callbacks:    c.callbacks(gen),
	})
	if err != nil {
		sessCancel()
		return c.abort(gen, "Could not start conversation", &SessionError{Op: "start", Err: err})
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		sessCancel()
		_ = sess.End()
		return errSuperseded
	}
	c.session = sess
	c.sessionCancel = sessCancel
	c.lastSessionID = sess.ID()
	c.contextData = data
	sess.SetVolume(c.volume)
	go c.pump(sessCtx, mic, sess)
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()

	metrics.SessionsStarted.WithLabelValues("ok").Inc()
	c.log.Info("conversation started",
		"session_id", sess.ID(),
		"book", book.FileName,
		"reconnect", reconnect,
		"has_context", data != nil,
		"has_history", history != "")

	if c.recorder != nil && book.FileName != "" {
		if err := c.recorder.RecordSession(ctx, book.FileName, sess.ID()); err != nil {
			c.log.Warn("record session id", "error", err)
		}
	}
	return nil
}

// abort tears down a failed start of generation gen. Playback is resumed
// only if the attempt had taken it from the listener.
func (c *Controller) abort(gen uint64, title string, err error) error {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return errSuperseded
	}
	c.gen++
	resume := c.holdsPlayback
	sess := c.detachLocked(false)
	c.setStatusLocked(StatusIdle)
	c.mu.Unlock()

	if sess != nil {
		_ = sess.End()
	}
	metrics.SessionsStarted.WithLabelValues("failed").Inc()
	c.log.Error("conversation start failed", "error", err)
	c.emit(Event{Kind: EventNotice, Title: title, Message: err.Error(), Err: err})
	if resume {
		c.emit(Event{Kind: EventResume})
	}
	return err
}

// detachLocked releases the microphone and, unless keepPlayback, the player.
// The session is returned for the caller to end outside the lock.
func (c *Controller) detachLocked(keepPlayback bool) Session {
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	if c.micHandle != nil {
		if err := c.micHandle.Release(); err != nil {
			c.log.Warn("release microphone", "error", err)
		}
		c.micHandle = nil
	}
	if c.holdsPlayback && !keepPlayback {
		c.arbiter.Release(arbiter.OwnerVoice)
		c.holdsPlayback = false
	}
	sess := c.session
	c.session = nil
	c.contextData = nil
	return sess
}

func (c *Controller) handleDisconnect(gen uint64, d DisconnectDetails) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	metrics.Disconnects.WithLabelValues(string(d.Reason)).Inc()
	c.log.Info("conversation disconnected", "reason", d.Reason, "message", d.Message)

	if d.Reason == ReasonError && !c.reconnectUsed && c.lastSessionID != "" {
		c.reconnectUsed = true
		c.gen++
		next := c.gen
		c.startingGen = next
		sess := c.detachLocked(true)
		c.setStatusLocked(StatusError)
		c.setStatusLocked(StatusConnecting)
		sid := c.lastSessionID
		c.mu.Unlock()

		if sess != nil {
			_ = sess.End()
		}
		metrics.Reconnects.Inc()
		go c.reconnect(next, sid)
		return
	}

	c.gen++
	sess := c.detachLocked(false)
	c.setStatusLocked(StatusIdle)
	c.mu.Unlock()

	if sess != nil {
		_ = sess.End()
	}
	if d.Reason == ReasonError {
		err := &ConnectionLostError{Reason: d.Reason, Message: d.Message}
		c.emit(Event{Kind: EventNotice, Title: "Connection lost", Message: err.Error(), Err: err})
	}
	c.emit(Event{Kind: EventResume})
}

func (c *Controller) reconnect(gen uint64, sessionID string) {
	defer c.finishStart(gen)
	ctx, cancel := context.WithTimeout(context.Background(), reconnectTimeout)
	defer cancel()

	c.log.Info("reconnecting", "session_id", sessionID)
	if err := c.run(ctx, gen, sessionID, true); err != nil && !errors.Is(err, errSuperseded) {
		c.log.Warn("reconnect failed", "error", err)
	}
}

func (c *Controller) callbacks(gen uint64) Callbacks {
	return Callbacks{
		OnConnect: func(id string) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if gen == c.gen && id != "" {
				c.lastSessionID = id
			}
		},
		OnDisconnect: func(d DisconnectDetails) {
			c.handleDisconnect(gen, d)
		},
		OnMessage: func(m Message) {
			if c.current(gen) {
				c.emit(Event{Kind: EventMessage, Role: m.Role, Message: m.Text})
			}
		},
		OnError: func(err error) {
			if !c.current(gen) {
				return
			}
			metrics.Errors.WithLabelValues("voice", "session").Inc()
			c.log.Warn("voice session error", "error", err)
			serr := &SessionError{Op: "remote", Err: err}
			c.emit(Event{Kind: EventNotice, Title: "Conversation error", Message: serr.Error(), Err: serr})
		},
	}
}

func (c *Controller) playChunkTool(book Book) ToolFunc {
	return func(ctx context.Context, params map[string]any) (string, error) {
		text, _ := params["contextText"].(string)
		if text == "" {
			text, _ = params["context_text"].(string)
		}
		c.emit(Event{Kind: EventChunk, Message: text})

		var res chunk.Result
		err := c.arbiter.Guard(func() error {
			r, err := c.chunks.PlayChunk(ctx, chunk.Request{
				ContextText: text,
				Source:      book.Stream,
				FileName:    book.FileName,
			})
			res = r
			return err
		})
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

// fetchContext returns nil without a request when the position is too close
// to the start of the book.
func (c *Controller) fetchContext(ctx context.Context, book Book) (*backend.ContextData, error) {
	t := c.position.CurrentTime()
	if t < minContextTime {
		return nil, nil
	}
	return c.contexts.Context(ctx, t, book.FileName)
}

func (c *Controller) acquireMic(ctx context.Context) (*micLease, error) {
	h, err := c.mic.Acquire(ctx)
	if err == nil {
		return &micLease{MicHandle: h}, nil
	}
	c.log.Warn("microphone unavailable, retrying", "error", err)

	timer := time.NewTimer(c.micRetryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, &MicrophoneAccessError{Err: ctx.Err()}
	case <-timer.C:
	}

	h, err = c.mic.Acquire(ctx)
	if err != nil {
		return nil, &MicrophoneAccessError{Err: err}
	}
	return &micLease{MicHandle: h}, nil
}

// pump forwards microphone frames to the session until ctx is done.
func (c *Controller) pump(ctx context.Context, mic MicHandle, sess Session) {
	frames := mic.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if err := sess.SendAudio(frame); err != nil {
				c.log.Debug("send audio", "error", err)
			}
		}
	}
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Controller) currentBook() Book {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.book
}

func (c *Controller) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	if c.status == StatusConnected {
		metrics.SessionsActive.Dec()
	}
	if s == StatusConnected {
		metrics.SessionsActive.Inc()
	}
	c.status = s
	c.emit(Event{Kind: EventStatus, Status: s, SessionID: c.lastSessionID})
}

func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event dropped", "kind", ev.Kind)
	}
}

func seedVariables(book Book, data *backend.ContextData, history, firstMessage string) map[string]string {
	vars := map[string]string{
		"context":        "",
		"history":        history,
		"first_message":  firstMessage,
		"book_name":      book.Name(),
		"start_position": "0",
		"end_position":   "0",
	}
	if data != nil {
		vars["context"] = data.Context
		vars["start_position"] = strconv.Itoa(data.StartPosition)
		vars["end_position"] = strconv.Itoa(data.EndPosition)
	}
	return vars
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// micLease makes Release idempotent.
type micLease struct {
	MicHandle
	once sync.Once
	err  error
}

func (m *micLease) Release() error {
	m.once.Do(func() { m.err = m.MicHandle.Release() })
	return m.err
}
