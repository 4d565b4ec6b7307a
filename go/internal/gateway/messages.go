package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType names a client-to-server message.
type MessageType string

const (
	MessageTypeJoinGame    MessageType = "join_game"
	MessageTypeStartGame   MessageType = "start_game"
	MessageTypeSubmitScore MessageType = "submit_score"
	MessageTypeLeaveGame   MessageType = "leave_game"
)

// EventTypeConnected is sent once, to the new connection only.
const EventTypeConnected = "connected"

// ErrMalformedMessage wraps every inbound decode failure.
var ErrMalformedMessage = errors.New("malformed message")

// ClientMessage is the inbound envelope.
type ClientMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinGameData is the join_game payload.
type JoinGameData struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// StartGameData is the start_game payload.
type StartGameData struct {
	RoomID string `json:"roomId"`
}

// SubmitScoreData is the submit_score payload. Score is required.
type SubmitScoreData struct {
	RoomID string   `json:"roomId"`
	Score  *float64 `json:"score"`
}

// LeaveGameData is the leave_game payload.
type LeaveGameData struct {
	RoomID string `json:"roomId"`
}

// ServerEvent is the outbound envelope. Data holds the event payload.
type ServerEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	RoomID    string      `json:"roomId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ConnectedPayload tells a client its own player id.
type ConnectedPayload struct {
	PlayerID string `json:"playerId"`
}

// decodeClientMessage parses the envelope and its typed payload.
func decodeClientMessage(raw []byte) (MessageType, interface{}, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(msg.Data) == 0 {
		msg.Data = json.RawMessage("{}")
	}

	var (
		data interface{}
		err  error
	)
	switch msg.Type {
	case MessageTypeJoinGame:
		var d JoinGameData
		err = json.Unmarshal(msg.Data, &d)
		data = d
	case MessageTypeStartGame:
		var d StartGameData
		err = json.Unmarshal(msg.Data, &d)
		data = d
	case MessageTypeSubmitScore:
		var d SubmitScoreData
		if err = json.Unmarshal(msg.Data, &d); err == nil && d.Score == nil {
			err = errors.New("score is required")
		}
		data = d
	case MessageTypeLeaveGame:
		var d LeaveGameData
		err = json.Unmarshal(msg.Data, &d)
		data = d
	default:
		return msg.Type, nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}
	if err != nil {
		return msg.Type, nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, msg.Type, err)
	}
	return msg.Type, data, nil
}
