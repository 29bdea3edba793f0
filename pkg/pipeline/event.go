package pipeline

// EventType classifies an out-of-band pipeline event.
type EventType int

const (
	EventBegin EventType = iota
	EventRead
	EventEnd
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventBegin:
		return "BEGIN"
	case EventRead:
		return "READ"
	case EventEnd:
		return "END"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// EventSubType refines an EventType.
type EventSubType int

const (
	SubTypeNone EventSubType = iota
	SubTypeTimeout
	SubTypeClientDisconnect
	SubTypeIOError
	SubTypeReload
	SubTypeShutdown
	SubTypeSessionEnd
)

func (t EventSubType) String() string {
	switch t {
	case SubTypeNone:
		return "NONE"
	case SubTypeTimeout:
		return "TIMEOUT"
	case SubTypeClientDisconnect:
		return "CLIENT_DISCONNECT"
	case SubTypeIOError:
		return "IOERROR"
	case SubTypeReload:
		return "WEBAPP_RELOAD"
	case SubTypeShutdown:
		return "SERVER_SHUTDOWN"
	case SubTypeSessionEnd:
		return "SESSION_END"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered through Valve.Event.
type Event struct {
	Type    EventType
	SubType EventSubType
}
