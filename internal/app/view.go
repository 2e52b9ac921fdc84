package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/d-kavaliou/book-buddy/internal/ui"
	"github.com/d-kavaliou/book-buddy/internal/voice"
)

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + player(1) + dividers(2) + notice(1) + warning(1) + footer(1) + padding
	reserved := 8
	return max(5, m.height-reserved)
}

func (m Model) libraryPanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(20, m.width*30/100)
}

func (m Model) rightPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.libraryPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Initializing..."
	}

	divider := ui.DividerStyle.Render(strings.Repeat("─", m.width))
	sections := []string{
		m.renderHeader(),
		m.renderPlayerBar(),
		divider,
		m.renderMainContent(),
		divider,
	}
	if m.notice != nil {
		sections = append(sections, m.renderNotice())
	}
	if len(m.warnings) > 0 {
		sections = append(sections, ui.WarningStyle.Render("! "+m.warnings[0]))
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("BOOK BUDDY")
	switch {
	case m.loading != "":
		title += ui.DimStyle.Render(" loading " + m.loading + "...")
	case m.book.FileName != "":
		title += ui.BookTitleStyle.Render(" " + m.book.Name())
	}
	if m.uploadStatus != "" {
		title += "  " + ui.WarningStyle.Render(m.uploadStatus)
	}
	return title
}

func (m Model) renderPlayerBar() string {
	var icon string
	switch {
	case m.state.Disabled:
		icon = ui.LockedStyle.Render("◼ LOCKED")
	case m.state.IsPlaying:
		icon = ui.PlayingStyle.Render("▶ PLAY ")
	default:
		icon = ui.PausedStyle.Render("❚❚ PAUSE")
	}

	clock := fmt.Sprintf(" %s / %s ", ui.Clock(m.state.CurrentTime), ui.Clock(m.state.Duration))
	voiceBadge := m.renderVoiceBadge()

	barWidth := m.width - lipgloss.Width(icon) - lipgloss.Width(clock) - lipgloss.Width(voiceBadge) - 3
	bar := ui.ProgressBar(m.state.CurrentTime, m.state.Duration, max(0, barWidth))
	return icon + " " + bar + ui.TimestampStyle.Render(clock) + " " + voiceBadge
}

func (m Model) renderVoiceBadge() string {
	switch m.voiceStatus {
	case voice.StatusConnected:
		return ui.VoiceLiveStyle.Render("● TALKING")
	case voice.StatusConnecting:
		return ui.VoiceConnectingStyle.Render("◌ CONNECTING")
	case voice.StatusError:
		return ui.ErrorTextStyle.Render("✕ RECONNECTING")
	default:
		return ui.IdleDotStyle.Render("○ VOICE OFF")
	}
}

func (m Model) renderMainContent() string {
	leftW := m.libraryPanelWidth()
	rightW := m.rightPanelWidth()
	contentH := m.contentHeight()

	left := strings.Split(m.renderLibraryPanel(leftW, contentH), "\n")
	var right []string
	if m.showNotes {
		right = strings.Split(m.renderNotesPanel(rightW, contentH), "\n")
	} else {
		right = strings.Split(m.renderConversationPanel(rightW, contentH), "\n")
	}

	divider := ui.DividerStyle.Render("│")
	rows := make([]string, 0, contentH)
	for i := 0; i < contentH; i++ {
		l := strings.Repeat(" ", leftW)
		if i < len(left) {
			l = left[i]
		}
		r := ""
		if i < len(right) {
			r = right[i]
		}
		rows = append(rows, l+divider+r)
	}
	return strings.Join(rows, "\n")
}

func (m Model) panelHeader(title string, focus PanelFocus) string {
	if m.focusedPanel == focus {
		return ui.PanelTitleActiveStyle.Render(title)
	}
	return ui.PanelTitleStyle.Render(title)
}

func (m Model) renderLibraryPanel(width, height int) string {
	lines := []string{padRight(m.panelHeader(fmt.Sprintf("LIBRARY (%d)", len(m.files)), FocusLibrary), width)}

	switch {
	case m.libraryLoading && len(m.files) == 0:
		lines = append(lines, ui.DimStyle.Render("  Loading..."))
	case m.libraryErr != "" && len(m.files) == 0:
		lines = append(lines, ui.ErrorTextStyle.Render("  Backend unreachable"))
		lines = append(lines, ui.DimStyle.Render("  Press r to retry"))
	case len(m.files) == 0:
		lines = append(lines, ui.DimStyle.Render("  No books yet..."))
		lines = append(lines, ui.DimStyle.Render("  Upload: book-buddy <file>"))
	default:
		start := 0
		if m.selectedFile >= height-1 {
			start = m.selectedFile - (height - 2)
		}
		for i := start; i < len(m.files); i++ {
			name := m.files[i]
			var line string
			switch {
			case i == m.selectedFile && m.focusedPanel == FocusLibrary:
				line = ui.SelectedStyle.Render("> " + name)
			case name == m.book.FileName:
				line = ui.CurrentBookStyle.Render("♪ " + name)
			default:
				line = "  " + name
			}
			lines = append(lines, truncateToWidth(line, width))
		}
	}

	return fitPanel(lines, width, height)
}

func (m Model) renderConversationPanel(width, height int) string {
	badge := ui.LiveBadgeStyle.Render(" LIVE")
	if !m.convLive {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}
	lines := []string{m.panelHeader("CONVERSATION", FocusConversation) + badge}
	contentHeight := height - 1

	if len(m.lines) == 0 {
		lines = append(lines, "")
		switch {
		case m.voice == nil:
			lines = append(lines, ui.DimStyle.Render("  Voice is not configured"))
		case m.voiceStatus == voice.StatusConnecting:
			lines = append(lines, ui.VoiceConnectingStyle.Render("  Connecting to your reading companion..."))
		case m.book.FileName == "":
			lines = append(lines, ui.DimStyle.Render("  Load a book, then press c to talk about it"))
		default:
			lines = append(lines, ui.DimStyle.Render("  Press c to talk about what you've heard"))
		}
		return fitPanel(lines, 0, height)
	}

	// Prefix: "[HH:MM:SS] agent " = 17 chars visible
	prefixWidth := 17
	textWidth := max(10, width-prefixWidth-2)
	indent := strings.Repeat(" ", prefixWidth)

	var display []string
	first := 0
	if !m.convLive {
		first = min(m.convScroll, len(m.lines)-1)
	}
	for _, l := range m.lines[first:] {
		ts := ui.TimestampStyle.Render(l.Timestamp.Format("[15:04:05]"))
		label, style := roleLabel(l.Role)
		wrapped := wrapText(l.Text, textWidth)
		display = append(display, ts+" "+label+" "+style.Render(wrapped[0]))
		for _, wl := range wrapped[1:] {
			display = append(display, indent+style.Render(wl))
		}
	}

	start := 0
	if m.convLive && len(display) > contentHeight {
		start = len(display) - contentHeight
	}
	end := min(len(display), start+contentHeight)
	for _, d := range display[start:end] {
		lines = append(lines, "  "+d)
	}
	return fitPanel(lines, 0, height)
}

func roleLabel(role string) (string, lipgloss.Style) {
	switch role {
	case string(voice.RoleUser):
		return ui.UserLabelStyle.Render("you  "), lipgloss.NewStyle()
	case "chunk":
		return ui.ChunkStyle.Render("♪    "), ui.ChunkStyle
	default:
		return ui.AgentLabelStyle.Render("agent"), lipgloss.NewStyle()
	}
}

func (m Model) renderNotesPanel(width, height int) string {
	lines := []string{m.panelHeader(fmt.Sprintf("NOTES (%d)", len(m.notes)), FocusNotes)}

	switch {
	case m.notesErr != "":
		lines = append(lines, "", ui.ErrorTextStyle.Render("  "+m.notesErr))
	case len(m.notes) == 0:
		lines = append(lines, "", ui.DimStyle.Render("  No notes yet..."))
	default:
		textWidth := max(10, width-6)
		for _, n := range m.notes[min(m.notesScroll, len(m.notes)-1):] {
			lines = append(lines, "  "+ui.TimestampStyle.Render(n.Date)+" "+ui.AgentLabelStyle.Render(n.BookName))
			for _, wl := range wrapText(n.Note, textWidth) {
				lines = append(lines, "    "+wl)
			}
		}
	}
	return fitPanel(lines, 0, height)
}

func (m Model) renderNotice() string {
	n := m.notice
	if n.Description == "" {
		return ui.ErrorStyle.Render(n.Title)
	}
	return ui.ErrorStyle.Render(n.Title+": ") + ui.ErrorTextStyle.Render(n.Description)
}

func (m Model) renderFooter() string {
	key := func(k, desc string) string {
		return ui.FooterKeyStyle.Render(k) + ui.FooterDescStyle.Render(" "+desc)
	}

	playDesc := "Play"
	if m.state.IsPlaying {
		playDesc = "Pause"
	}
	talkDesc := "Talk"
	if m.voiceStatus == voice.StatusConnected || m.voiceStatus == voice.StatusConnecting {
		talkDesc = "Hang up"
	}

	parts := []string{
		key("Space", playDesc),
		key("←/→", "10s"),
		key("c", talkDesc),
		key("n", "Notes"),
		key("Tab", "Focus"),
		key("j/k", "Nav"),
		key("Enter", "Open"),
		key("r", "Refresh"),
		key("q", "Quit"),
	}
	return strings.Join(parts, "  ")
}

// Helpers

// fitPanel pads or cuts lines to height; a positive width pads each line.
func fitPanel(lines []string, width, height int) string {
	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	if width > 0 {
		for i, l := range lines {
			lines[i] = padRight(l, width)
		}
	}
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible <= width {
		return s
	}
	// Simple truncation for non-styled strings
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len(current)+1+len(word) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		if current != "" {
			lines = append(lines, current)
		} else {
			lines = append(lines, "")
		}
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
