package task

import (
	"fmt"

	"github.com/adamwoolhether/httpstream/client/session"
)

// Kind identifies a progress event.
type Kind int

const (
	// EventStarted is sent by the client when a subscription is established,
	// before the task is resumed.
	EventStarted Kind = iota + 1
	EventResumed
	EventResponse
	EventData
	EventSuccess
	EventFailed
	EventCancelled
)

func (k Kind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventResumed:
		return "resumed"
	case EventResponse:
		return "response"
	case EventData:
		return "data"
	case EventSuccess:
		return "success"
	case EventFailed:
		return "failed"
	case EventCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Terminal reports whether no event can follow one of this kind.
func (k Kind) Terminal() bool {
	return k == EventSuccess || k == EventFailed || k == EventCancelled
}

// Event is a single progress notification of a task.
//
// Chunk and Total are set for EventData, Response for EventResponse, Data for
// EventSuccess and Err for EventFailed and EventCancelled.
// Data events replayed to a late receiver carry Total but no Chunk.
type Event struct {
	Kind     Kind
	TaskID   string
	Response *session.Response
	Chunk    []byte
	Total    int64
	Data     []byte
	Err      error
}
