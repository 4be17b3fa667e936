// Package rpc implements the newline-delimited JSON protocol spoken with the
// Pi coding agent in RPC mode: typed requests on stdin, streamed events on
// stdout, one object per line.
//
// The parser is deliberately permissive. Pi ships independently of Fae, so a
// newer Pi may emit event shapes this package has never seen; those degrade to
// Unknown lines instead of errors. A malformed line must never take the host
// down.
package rpc

import (
	"encoding/json"
	"strings"
)

// RequestType tags an outbound request.
type RequestType string

const (
	RequestPrompt     RequestType = "prompt"
	RequestAbort      RequestType = "abort"
	RequestGetState   RequestType = "get_state"
	RequestNewSession RequestType = "new_session"
)

// Request is a command sent to Pi's stdin.
type Request struct {
	Type    RequestType
	Message string // prompt requests only
}

// Prompt builds a prompt request carrying a task or message for Pi.
func Prompt(message string) Request {
	return Request{Type: RequestPrompt, Message: message}
}

// Abort builds a request aborting the current operation.
func Abort() Request {
	return Request{Type: RequestAbort}
}

// GetState builds a request for the current session state.
func GetState() Request {
	return Request{Type: RequestGetState}
}

// NewSession builds a request starting a fresh session.
func NewSession() Request {
	return Request{Type: RequestNewSession}
}

// MarshalJSON emits the exact wire shape per request type, tag field first.
func (r Request) MarshalJSON() ([]byte, error) {
	switch r.Type {
	case RequestPrompt:
		return json.Marshal(struct {
			Type    RequestType `json:"type"`
			Message string      `json:"message"`
		}{r.Type, r.Message})
	default:
		return json.Marshal(struct {
			Type RequestType `json:"type"`
		}{r.Type})
	}
}

// EncodeRequest serializes a request to a single JSON line. The trailing
// newline is the writer's responsibility, not the codec's.
func EncodeRequest(r Request) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// EventType tags an inbound event.
type EventType string

const (
	EventAgentStart          EventType = "agent_start"
	EventAgentEnd            EventType = "agent_end"
	EventTurnStart           EventType = "turn_start"
	EventTurnEnd             EventType = "turn_end"
	EventMessageStart        EventType = "message_start"
	EventMessageUpdate       EventType = "message_update"
	EventMessageEnd          EventType = "message_end"
	EventToolExecutionStart  EventType = "tool_execution_start"
	EventToolExecutionUpdate EventType = "tool_execution_update"
	EventToolExecutionEnd    EventType = "tool_execution_end"
	EventAutoCompactionStart EventType = "auto_compaction_start"
	EventAutoCompactionEnd   EventType = "auto_compaction_end"
	EventResponse            EventType = "response"
)

var knownEvents = map[EventType]struct{}{
	EventAgentStart:          {},
	EventAgentEnd:            {},
	EventTurnStart:           {},
	EventTurnEnd:             {},
	EventMessageStart:        {},
	EventMessageUpdate:       {},
	EventMessageEnd:          {},
	EventToolExecutionStart:  {},
	EventToolExecutionUpdate: {},
	EventToolExecutionEnd:    {},
	EventAutoCompactionStart: {},
	EventAutoCompactionEnd:   {},
	EventResponse:            {},
}

// Event is a recognized event from Pi's stdout. Optional fields default to
// their zero values when absent; a valid JSON line with a recognized type tag
// always decodes.
type Event struct {
	Type    EventType `json:"type"`
	Text    string    `json:"text"`    // message_update, tool_execution_update
	Name    string    `json:"name"`    // tool_execution_start, tool_execution_end
	Success bool      `json:"success"` // tool_execution_end, response
}

// SessionEvent wraps what a session consumer receives: a recognized event, an
// unrecognized raw line, or the process-exited sentinel.
type SessionEvent struct {
	Event  *Event // non-nil for recognized events
	Raw    string // original line for unrecognized or malformed input
	Exited bool   // true once the Pi process is gone
}

// ProcessExited returns the end-of-stream sentinel.
func ProcessExited() SessionEvent {
	return SessionEvent{Exited: true}
}

// ParseLine decodes one stdout line into a SessionEvent. Invalid JSON, a
// missing type tag, and unrecognized tags all yield an Unknown-style event
// carrying the raw line; ParseLine never fails.
func ParseLine(line string) SessionEvent {
	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return SessionEvent{Raw: line}
	}
	if strings.TrimSpace(string(ev.Type)) == "" {
		return SessionEvent{Raw: line}
	}
	if _, ok := knownEvents[ev.Type]; !ok {
		return SessionEvent{Raw: line}
	}
	return SessionEvent{Event: &ev}
}
