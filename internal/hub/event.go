package hub

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Event names carried on every push transport
const (
	EventConnection = "connection"
	EventMessage    = "message"
	EventDeleted    = "messageDeleted"
	EventCleared    = "clearAll"
	EventHeartbeat  = "heartbeat"
)

// Event is one feed-change notification. Data is either a plain string or a JSON-encodable payload.
type Event struct {
	Name string
	Data any
}

// NewMessagesPayload tells clients that the newest part of the feed changed
type NewMessagesPayload struct {
	NewMessages int `json:"newMessages"`
}

// DeletedPayload names the soft-deleted message
type DeletedPayload struct {
	MessageID string `json:"messageId"`
}

// ClearedPayload marks a clear-all
type ClearedPayload struct {
	Action string `json:"action"`
}

func Connected() Event {
	return Event{Name: EventConnection, Data: "connected"}
}

func NewMessages(count int) Event {
	return Event{Name: EventMessage, Data: NewMessagesPayload{NewMessages: count}}
}

func Deleted(id int64) Event {
	return Event{Name: EventDeleted, Data: DeletedPayload{MessageID: strconv.FormatInt(id, 10)}}
}

func Cleared() Event {
	return Event{Name: EventCleared, Data: ClearedPayload{Action: "clearAll"}}
}

func Heartbeat() Event {
	return Event{Name: EventHeartbeat, Data: "ping"}
}

// Payload renders the data line of the event
func (e Event) Payload() ([]byte, error) {
	if s, ok := e.Data.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(e.Data)
}

// SSE encodes the event as one text/event-stream frame
func (e Event) SSE() ([]byte, error) {
	data, err := e.Payload()
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s event: %w", e.Name, err)
	}
	return []byte("event: " + e.Name + "\ndata: " + string(data) + "\n\n"), nil
}

// Frame is the WebSocket representation of an event
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WS returns the value written with websocket.Conn.WriteJSON
func (e Event) WS() Frame {
	return Frame{Type: e.Name, Data: e.Data}
}
