package app

// Key binding constants used in handleKey.
const (
	KeyQuit       = "q"
	KeyQuitUpper  = "Q"
	KeyCtrlC      = "ctrl+c"
	KeySpace      = " "
	KeyLeft       = "left"
	KeyRight      = "right"
	KeyConverse   = "c"
	KeyNotes      = "n"
	KeyTab        = "tab"
	KeyUp         = "up"
	KeyDown       = "down"
	KeyJ          = "j"
	KeyK          = "k"
	KeyEnter      = "enter"
	KeyRefresh    = "r"
	KeyVolumeUp   = "+"
	KeyVolumeDown = "-"
)
