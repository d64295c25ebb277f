package refresh

import (
	"time"

	"github.com/google/uuid"

	"github.com/casewatch/casewatch/pkg/types"
)

// Event names carried in Message.Event.
const (
	EventTree    = "tree"
	EventResults = "results"
	EventPending = "pending"
)

// Message is one refresh notice as sent to sinks.
//
// Data holds []types.TreeEvent for tree and pending messages and
// []types.DAOEventKey for results messages.
type Message struct {
	Event       string    `json:"event"`
	ID          string    `json:"id"`
	Determinate bool      `json:"determinate"`
	Time        time.Time `json:"time"`
	Data        any       `json:"data"`
}

// TreeEvents returns Data as tree events, or nil for a results message.
func (m Message) TreeEvents() []types.TreeEvent {
	ev, _ := m.Data.([]types.TreeEvent)
	return ev
}

// Keys returns the keys a message is about, whatever its kind.
func (m Message) Keys() []types.DAOEventKey {
	switch d := m.Data.(type) {
	case []types.DAOEventKey:
		return d
	case []types.TreeEvent:
		keys := make([]types.DAOEventKey, len(d))
		for i, ev := range d {
			keys[i] = ev.Key
		}
		return keys
	}
	return nil
}

// Sink receives refresh messages. Publish is called from engine timer
// goroutines and must not block; sinks that do I/O queue the message.
type Sink interface {
	Publish(Message)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Message)

// Publish implements Sink.
func (f SinkFunc) Publish(m Message) { f(m) }

func newMessage(event string, determinate bool, now time.Time, data any) Message {
	return Message{
		Event:       event,
		ID:          uuid.NewString(),
		Determinate: determinate,
		Time:        now.UTC(),
		Data:        data,
	}
}
