package websocket

import (
	"encoding/json"
	"time"

	"collabdraw-server/internal/domain"
)

type MessageType string

const (
	TypeActions  MessageType = "actions"
	TypeAppend   MessageType = "append"
	TypePresence MessageType = "presence"
	TypeError    MessageType = "error"
	TypePing     MessageType = "ping"
	TypePong     MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ActionsPayload is one ordered batch of the board feed.
type ActionsPayload struct {
	BoardID string          `json:"boardId"`
	Actions []domain.Action `json:"actions"`
}

// AppendPayload carries an action a client wants appended to its board.
type AppendPayload struct {
	Action domain.ActionRecord `json:"action"`
}

type PresencePayload struct {
	BoardID      string               `json:"boardId"`
	Participants []domain.Participant `json:"participants"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
