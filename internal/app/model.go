package app

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/d-kavaliou/book-buddy/internal/backend"
	"github.com/d-kavaliou/book-buddy/internal/db"
	"github.com/d-kavaliou/book-buddy/internal/player"
	"github.com/d-kavaliou/book-buddy/internal/voice"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	tickInterval   = 250 * time.Millisecond
	noticeTimeout  = 5 * time.Second
	requestTimeout = 15 * time.Second
	loadTimeout    = 30 * time.Second
	processTimeout = 2 * time.Hour
	maxLines       = 500
	volumeStep     = 0.1
	uploadFileType = "audio"
)

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusLibrary PanelFocus = iota
	FocusConversation
	FocusNotes
)

// Library is the backend as the TUI uses it.
type Library interface {
	Files(ctx context.Context) ([]string, error)
	Notes(ctx context.Context) ([]backend.Note, error)
	AudioURL(fileName string) string
	Upload(ctx context.Context, path, fileType string) (backend.UploadResult, error)
	WaitProcessed(ctx context.Context, fileName string, interval time.Duration) error
}

// Playback is the timed audio player.
type Playback interface {
	Load(ctx context.Context, source string) error
	State() player.State
	Toggle() error
	SetPlaying(playing bool) error
	Seek(t float64) error
	SkipForward() error
	SkipBack() error
	Tick()
}

// Conversation is the voice session controller.
type Conversation interface {
	Start(ctx context.Context, existingSessionID string) error
	Stop() error
	Events() <-chan voice.Event
	SetBook(b voice.Book)
	SetVolume(v float64)
}

// BookStore persists listening state.
type BookStore interface {
	Book(ctx context.Context, fileName string) (*db.BookState, error)
	SavePosition(ctx context.Context, fileName string, position float64) error
	SetTitle(ctx context.Context, fileName, title string) error
	AddLine(ctx context.Context, line db.ConversationLine) error
	LinesForSession(ctx context.Context, sessionID string) ([]db.ConversationLine, error)
}

// Deps are the collaborators of the TUI. Voice and Store may be nil.
type Deps struct {
	Library      Library
	Player       Playback
	PlayerEvents <-chan PlayerEvent
	Voice        Conversation
	Store        BookStore
	UploadPath   string // uploaded, processed and loaded on start
	Volume       float64
	Warnings     []string
	Log          *slog.Logger
}

// ConversationLine is a transcript line for display.
type ConversationLine struct {
	Role      string
	Text      string
	Timestamp time.Time
}

// Notice is a transient user-facing message.
type Notice struct {
	Title       string
	Description string
}

// Model is the root bubbletea model for the book-buddy TUI.
type Model struct {
	library      Library
	player       Playback
	playerEvents <-chan PlayerEvent
	voice        Conversation
	store        BookStore
	uploadPath   string
	log          *slog.Logger

	// Library
	files          []string
	selectedFile   int
	libraryErr     string
	libraryLoading bool

	// Book
	book          voice.Book
	bookSessionID string
	loading       string
	state         player.State
	uploadStatus  string

	// Conversation
	voiceStatus voice.Status
	lines       []ConversationLine
	convScroll  int
	convLive    bool
	volume      float64

	// Notes
	notes       []backend.Note
	notesErr    string
	showNotes   bool
	notesScroll int

	// UI state
	focusedPanel PanelFocus
	width        int
	height       int
	notice       *Notice
	noticeSeq    int
	warnings     []string
	quitting     bool
}

// New creates a Model with default state.
func New(deps Deps) Model {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	return Model{
		library:        deps.Library,
		player:         deps.Player,
		playerEvents:   deps.PlayerEvents,
		voice:          deps.Voice,
		store:          deps.Store,
		uploadPath:     deps.UploadPath,
		log:            log,
		libraryLoading: deps.Library != nil,
		voiceStatus:    voice.StatusIdle,
		convLive:       true,
		volume:         deps.Volume,
		warnings:       deps.Warnings,
		focusedPanel:   FocusLibrary,
	}
}

// Init loads the library, starts the player clock and subscribes to the
// player and conversation events.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		loadLibraryCmd(m.library),
		tickCmd(m.player),
		listenPlayerCmd(m.playerEvents),
		listenVoiceCmd(m.voice),
	}
	if m.uploadPath != "" {
		cmds = append(cmds, uploadCmd(m.library, m.uploadPath))
	}
	return tea.Batch(cmds...)
}

// loadLibraryCmd lists the uploaded books.
func loadLibraryCmd(lib Library) tea.Cmd {
	if lib == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		files, err := lib.Files(ctx)
		if err != nil {
			return LibraryLoadedMsg{Err: err}
		}
		return LibraryLoadedMsg{Files: backend.AudioFiles(files)}
	}
}

// loadNotesCmd fetches the saved notes.
func loadNotesCmd(lib Library) tea.Cmd {
	if lib == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		notes, err := lib.Notes(ctx)
		return NotesLoadedMsg{Notes: notes, Err: err}
	}
}

// loadBookCmd opens fileName in the player and restores its saved position
// and last conversation. A non-empty title is stored first.
func loadBookCmd(lib Library, p Playback, store BookStore, fileName, title string, log *slog.Logger) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		if err := p.Load(ctx, lib.AudioURL(fileName)); err != nil {
			return BookLoadedMsg{FileName: fileName, Err: err}
		}
		if store == nil {
			return BookLoadedMsg{FileName: fileName}
		}

		if title != "" {
			if err := store.SetTitle(ctx, fileName, title); err != nil {
				log.Warn("save title", "file", fileName, "error", err)
			}
		}
		saved, err := store.Book(ctx, fileName)
		if err != nil {
			log.Warn("read saved book state", "file", fileName, "error", err)
		}
		if saved == nil {
			return BookLoadedMsg{FileName: fileName}
		}
		if saved.Position > 0 {
			if err := p.Seek(saved.Position); err != nil {
				log.Warn("restore position", "file", fileName, "error", err)
			}
		}

		var lines []db.ConversationLine
		if saved.SessionID != "" {
			lines, err = store.LinesForSession(ctx, saved.SessionID)
			if err != nil {
				log.Warn("read conversation", "session_id", saved.SessionID, "error", err)
			}
		}
		return BookLoadedMsg{FileName: fileName, State: saved, Lines: lines}
	}
}

// uploadCmd uploads a local audio file.
func uploadCmd(lib Library, path string) tea.Cmd {
	if lib == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout*10)
		defer cancel()
		res, err := lib.Upload(ctx, path, uploadFileType)
		return UploadedMsg{Result: res, Err: err}
	}
}

// waitProcessedCmd polls until the backend has transcribed fileName.
func waitProcessedCmd(lib Library, fileName string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		err := lib.WaitProcessed(ctx, fileName, backend.DefaultPollInterval)
		return ProcessedMsg{FileName: fileName, Err: err}
	}
}

// tickCmd advances the player clock once per tickInterval.
func tickCmd(p Playback) tea.Cmd {
	if p == nil {
		return nil
	}
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		p.Tick()
		return PlayerTickMsg{State: p.State()}
	})
}

// listenPlayerCmd reads the next player notification.
func listenPlayerCmd(ch <-chan PlayerEvent) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return PlayerEventMsg{Event: ev}
	}
}

// listenVoiceCmd reads the next conversation event.
func listenVoiceCmd(v Conversation) tea.Cmd {
	if v == nil {
		return nil
	}
	ch := v.Events()
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return VoiceEventMsg{Event: ev}
	}
}

// playerActionCmd runs a playback action off the event loop.
func playerActionCmd(action string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return PlayerActionMsg{Action: action, Err: fn()}
	}
}

func startVoiceCmd(v Conversation, sessionID string) tea.Cmd {
	return func() tea.Msg {
		return VoiceStartedMsg{Err: v.Start(context.Background(), sessionID)}
	}
}

func stopVoiceCmd(v Conversation) tea.Cmd {
	return func() tea.Msg {
		return VoiceStoppedMsg{Err: v.Stop()}
	}
}

// savePositionCmd persists the position of fileName.
func savePositionCmd(store BookStore, fileName string, pos float64) tea.Cmd {
	if store == nil || fileName == "" {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		return PositionSavedMsg{Err: store.SavePosition(ctx, fileName, pos)}
	}
}

// addLineCmd stores a transcript line. Failures are only logged.
func addLineCmd(store BookStore, line db.ConversationLine, log *slog.Logger) tea.Cmd {
	if store == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if err := store.AddLine(ctx, line); err != nil {
			log.Warn("store transcript line", "error", err)
		}
		return nil
	}
}

// shutdownCmd stops the conversation and saves the position before quitting.
func shutdownCmd(v Conversation, store BookStore, fileName string, pos float64, log *slog.Logger) tea.Cmd {
	return func() tea.Msg {
		if v != nil {
			if err := v.Stop(); err != nil {
				log.Warn("stop conversation on quit", "error", err)
			}
		}
		if store != nil && fileName != "" {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := store.SavePosition(ctx, fileName, pos); err != nil {
				log.Warn("save position on quit", "error", err)
			}
		}
		return nil
	}
}

// clearNoticeCmd fires after noticeTimeout to clear notice seq.
func clearNoticeCmd(seq int) tea.Cmd {
	return tea.Tick(noticeTimeout, func(time.Time) tea.Msg {
		return ClearNoticeMsg{Seq: seq}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case LibraryLoadedMsg:
		m.libraryLoading = false
		if msg.Err != nil {
			m.libraryErr = msg.Err.Error()
			m.log.Warn("load library", "error", msg.Err)
			return m, m.setNotice("Library unavailable", msg.Err.Error())
		}
		m.libraryErr = ""
		m.files = msg.Files
		if m.selectedFile >= len(m.files) {
			m.selectedFile = max(0, len(m.files)-1)
		}
		return m, nil

	case NotesLoadedMsg:
		if msg.Err != nil {
			m.notesErr = msg.Err.Error()
			return m, nil
		}
		m.notesErr = ""
		m.notes = msg.Notes
		m.notesScroll = 0
		return m, nil

	case BookLoadedMsg:
		if msg.FileName != m.loading {
			return m, nil
		}
		m.loading = ""
		if msg.Err != nil {
			m.log.Error("load book", "file", msg.FileName, "error", msg.Err)
			return m, m.setNotice("Could not open book", msg.Err.Error())
		}
		m.book = voice.Book{
			FileName: msg.FileName,
			Title:    bookTitle(msg.FileName, msg.State),
			Stream:   m.library.AudioURL(msg.FileName),
		}
		m.bookSessionID = ""
		if msg.State != nil {
			m.bookSessionID = msg.State.SessionID
		}
		m.lines = nil
		m.convLive = true
		for _, l := range msg.Lines {
			m.lines = append(m.lines, ConversationLine{Role: l.Role, Text: l.Text, Timestamp: l.CreatedAt})
		}
		if len(m.lines) > maxLines {
			m.lines = m.lines[len(m.lines)-maxLines:]
		}
		m.convScroll = m.maxConversationScroll()
		m.state = m.player.State()
		if m.voice != nil {
			m.voice.SetBook(m.book)
		}
		m.log.Info("book loaded", "file", msg.FileName, "position", m.state.CurrentTime)
		return m, nil

	case UploadedMsg:
		if msg.Err != nil {
			m.uploadStatus = ""
			return m, m.setNotice("Upload failed", msg.Err.Error())
		}
		name := msg.Result.Filename
		if name == "" {
			name = filepath.Base(m.uploadPath)
		}
		m.uploadStatus = "Processing " + name + "..."
		return m, waitProcessedCmd(m.library, name)

	case ProcessedMsg:
		m.uploadStatus = ""
		if msg.Err != nil {
			return m, m.setNotice("Processing failed", msg.Err.Error())
		}
		m.loading = msg.FileName
		return m, tea.Batch(
			loadLibraryCmd(m.library),
			loadBookCmd(m.library, m.player, m.store, msg.FileName, uploadTitle(m.uploadPath), m.log),
		)

	case PlayerTickMsg:
		m.state = msg.State
		return m, tickCmd(m.player)

	case PlayerEventMsg:
		var cmd tea.Cmd
		switch msg.Event.Kind {
		case PlayerTimeUpdate:
			m.state.CurrentTime = msg.Event.Time
		case PlayerPlayState:
			m.state.IsPlaying = msg.Event.Playing
			if !msg.Event.Playing {
				cmd = savePositionCmd(m.store, m.book.FileName, m.state.CurrentTime)
			}
		}
		return m, tea.Batch(cmd, listenPlayerCmd(m.playerEvents))

	case PlayerActionMsg:
		if msg.Err == nil {
			return m, nil
		}
		switch {
		case errors.Is(msg.Err, player.ErrDisabled):
			return m, m.setNotice("Playback locked", "The book stays paused while the conversation is active.")
		case errors.Is(msg.Err, player.ErrNoSource):
			return m, m.setNotice("No book loaded", "Select a book and press enter.")
		default:
			m.log.Warn("playback action", "action", msg.Action, "error", msg.Err)
			return m, m.setNotice("Playback error", msg.Err.Error())
		}

	case VoiceEventMsg:
		cmd := m.handleVoiceEvent(msg.Event)
		return m, tea.Batch(cmd, listenVoiceCmd(m.voice))

	case VoiceStartedMsg:
		// Failed starts report their own notice through the event stream.
		if msg.Err != nil && !errors.Is(msg.Err, voice.ErrStartInFlight) && !errors.Is(msg.Err, voice.ErrAlreadyActive) {
			m.log.Info("conversation not started", "error", msg.Err)
		}
		return m, nil

	case VoiceStoppedMsg:
		if msg.Err != nil {
			return m, m.setNotice("Conversation error", msg.Err.Error())
		}
		return m, nil

	case PositionSavedMsg:
		if msg.Err != nil {
			m.log.Warn("save position", "error", msg.Err)
		}
		return m, nil

	case ClearNoticeMsg:
		if msg.Seq == m.noticeSeq {
			m.notice = nil
		}
		return m, nil
	}

	return m, nil
}

// handleVoiceEvent applies a controller event and returns any resulting command.
func (m *Model) handleVoiceEvent(ev voice.Event) tea.Cmd {
	switch ev.Kind {
	case voice.EventStatus:
		m.voiceStatus = ev.Status
		if ev.SessionID != "" {
			m.bookSessionID = ev.SessionID
		}

	case voice.EventMessage:
		if strings.TrimSpace(ev.Message) == "" {
			return nil
		}
		m.appendLine(string(ev.Role), ev.Message)
		return addLineCmd(m.store, db.ConversationLine{
			SessionID: m.bookSessionID,
			FileName:  m.book.FileName,
			Role:      string(ev.Role),
			Text:      ev.Message,
		}, m.log)

	case voice.EventChunk:
		m.appendLine("chunk", ev.Message)

	case voice.EventNotice:
		return m.setNotice(ev.Title, ev.Message)

	case voice.EventResume:
		if m.player == nil || m.book.FileName == "" {
			return nil
		}
		return playerActionCmd("resume", func() error { return m.player.SetPlaying(true) })
	}
	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.quitting = true
		return m, tea.Sequence(
			shutdownCmd(m.voice, m.store, m.book.FileName, m.state.CurrentTime, m.log),
			tea.Quit,
		)

	case KeySpace:
		if m.player == nil {
			return m, nil
		}
		return m, playerActionCmd("toggle", m.player.Toggle)

	case KeyLeft:
		if m.player == nil {
			return m, nil
		}
		return m, playerActionCmd("skip_back", m.player.SkipBack)

	case KeyRight:
		if m.player == nil {
			return m, nil
		}
		return m, playerActionCmd("skip_forward", m.player.SkipForward)

	case KeyConverse:
		return m, m.toggleConversation()

	case KeyNotes:
		m.showNotes = !m.showNotes
		if m.showNotes {
			m.focusedPanel = FocusNotes
			return m, loadNotesCmd(m.library)
		}
		if m.focusedPanel == FocusNotes {
			m.focusedPanel = FocusConversation
		}
		return m, nil

	case KeyTab:
		m.focusedPanel = m.nextFocus()
		return m, nil

	case KeyJ, KeyDown:
		m.move(1)
		return m, nil

	case KeyK, KeyUp:
		m.move(-1)
		return m, nil

	case KeyEnter:
		if m.focusedPanel != FocusLibrary || m.selectedFile >= len(m.files) {
			return m, nil
		}
		if m.voiceStatus != voice.StatusIdle {
			return m, m.setNotice("Conversation active", "Stop the conversation before switching books.")
		}
		if m.player == nil || m.library == nil {
			return m, nil
		}
		name := m.files[m.selectedFile]
		m.loading = name
		return m, tea.Batch(
			savePositionCmd(m.store, m.book.FileName, m.state.CurrentTime),
			loadBookCmd(m.library, m.player, m.store, name, "", m.log),
		)

	case KeyRefresh:
		if m.library == nil {
			return m, nil
		}
		m.libraryLoading = true
		cmds := []tea.Cmd{loadLibraryCmd(m.library)}
		if m.showNotes {
			cmds = append(cmds, loadNotesCmd(m.library))
		}
		return m, tea.Batch(cmds...)

	case KeyVolumeUp, KeyVolumeDown:
		if m.voice == nil {
			return m, nil
		}
		step := volumeStep
		if msg.String() == KeyVolumeDown {
			step = -step
		}
		m.volume = min(1, max(0, m.volume+step))
		m.voice.SetVolume(m.volume)
		return m, nil
	}

	return m, nil
}

// toggleConversation starts a conversation when idle and stops it otherwise.
func (m *Model) toggleConversation() tea.Cmd {
	if m.voice == nil {
		return m.setNotice("Voice unavailable", "Configure a voice provider to talk about the book.")
	}
	switch m.voiceStatus {
	case voice.StatusConnecting, voice.StatusConnected:
		return stopVoiceCmd(m.voice)
	}
	if m.book.FileName == "" {
		return m.setNotice("No book loaded", "Select a book and press enter.")
	}
	m.focusedPanel = FocusConversation
	return startVoiceCmd(m.voice, m.bookSessionID)
}

func (m *Model) setNotice(title, description string) tea.Cmd {
	m.noticeSeq++
	m.notice = &Notice{Title: title, Description: description}
	return clearNoticeCmd(m.noticeSeq)
}

func (m *Model) appendLine(role, text string) {
	m.lines = append(m.lines, ConversationLine{Role: role, Text: text, Timestamp: time.Now()})
	if len(m.lines) > maxLines {
		m.lines = m.lines[len(m.lines)-maxLines:]
	}
	if m.convLive {
		m.convScroll = m.maxConversationScroll()
	}
}

func (m Model) nextFocus() PanelFocus {
	switch m.focusedPanel {
	case FocusLibrary:
		if m.showNotes {
			return FocusNotes
		}
		return FocusConversation
	default:
		return FocusLibrary
	}
}

func (m *Model) move(delta int) {
	switch m.focusedPanel {
	case FocusLibrary:
		if len(m.files) == 0 {
			return
		}
		m.selectedFile = min(len(m.files)-1, max(0, m.selectedFile+delta))

	case FocusConversation:
		maxScroll := m.maxConversationScroll()
		m.convScroll = min(maxScroll, max(0, m.convScroll+delta))
		m.convLive = m.convScroll >= maxScroll

	case FocusNotes:
		m.notesScroll = min(max(0, len(m.notes)-1), max(0, m.notesScroll+delta))
	}
}

func (m Model) maxConversationScroll() int {
	visible := m.contentHeight() - 1
	if len(m.lines) <= visible {
		return 0
	}
	return len(m.lines) - visible
}

// uploadTitle derives a display title from the local file the listener
// uploaded.
func uploadTitle(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func bookTitle(fileName string, st *db.BookState) string {
	if st != nil && st.Title != "" {
		return st.Title
	}
	return strings.TrimSuffix(fileName, filepath.Ext(fileName))
}
