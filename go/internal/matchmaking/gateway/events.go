package gateway

// EventType represents the type of transport event
type EventType int

const (
	EventConnecting EventType = iota
	EventOpened
	EventMessage
	EventClosed
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is emitted by the Client for every change of the underlying transport
type Event struct {
	Type         EventType
	ConnectionID string
	Data         []byte // EventMessage: raw frame
	Code         int    // EventClosed: close code
	Reconnecting bool   // EventClosed: a reconnection attempt has been scheduled
	Err          error  // EventError
}
