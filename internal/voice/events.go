package voice

// EventKind identifies a controller event.
type EventKind int

const (
	// EventStatus reports a status transition.
	EventStatus EventKind = iota
	// EventMessage carries a transcript line.
	EventMessage
	// EventNotice is a user-facing failure with a title and description.
	EventNotice
	// EventResume tells the host to resume book playback.
	EventResume
	// EventChunk reports agent-initiated chunk playback.
	EventChunk
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventMessage:
		return "message"
	case EventNotice:
		return "notice"
	case EventResume:
		return "resume"
	case EventChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// Event is delivered on Controller.Events.
type Event struct {
	Kind      EventKind
	Status    Status
	SessionID string
	Role      Role
	Title     string
	Message   string
	Err       error
}
