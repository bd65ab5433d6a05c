package events

import (
	"encoding/json"
	"time"
)

// Message is the wire form of an event fanned out to a broker
type Message struct {
	Event     string      `json:"event"`
	Resource  string      `json:"resource"`
	SourceID  interface{} `json:"source_id"`
	CloneID   interface{} `json:"clone_id"`
	Datastore string      `json:"datastore,omitempty"`
	At        time.Time   `json:"at"`
}

// NewMessage builds the message of ev
func NewMessage(ev Event) Message {
	m := Message{
		Event:    ev.Name,
		Resource: ev.Resource,
		At:       ev.At,
	}
	if ev.Source != nil {
		m.SourceID = ev.Source.ID()
	}
	if ev.Clone != nil {
		m.CloneID = ev.Clone.ID()
		m.Datastore = ev.Clone.Datastore()
	}
	return m
}

// Encode marshals the message as JSON
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
