package deploy

import "time"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// LogEntry is appended once and never mutated. Seq is assigned by the log buffer and is
// strictly increasing across all channels.
type LogEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Channel   Target    `json:"channel"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Service   string    `json:"service,omitempty"`
}

type EventType string

const (
	EventLog   EventType = "log"
	EventState EventType = "state"
)

// Event is the message shape pushed to observers: {type: "log", data: LogEntry} or
// {type: "state", data: Snapshot}.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

func NewLogEvent(entry LogEntry) Event {
	return Event{Type: EventLog, Data: entry}
}

func NewStateEvent(snapshot Snapshot) Event {
	return Event{Type: EventState, Data: snapshot}
}
