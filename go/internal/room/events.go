package room

import "time"

// EventType names an outbound broadcast.
type EventType string

const (
	EventTypePlayerJoined EventType = "player_joined"
	EventTypePlayerLeft   EventType = "player_left"
	EventTypeGameStarting EventType = "game_starting"
	EventTypeTurnGreen    EventType = "turn_green"
	EventTypeGameResults  EventType = "game_results"
)

// Event is a state transition addressed to every member of a room.
type Event struct {
	Type    EventType
	RoomID  string
	At      time.Time
	Payload interface{}
}

// PlayerJoinedPayload is sent after a connection joins a room.
type PlayerJoinedPayload struct {
	PlayerID    string `json:"playerId"`
	PlayerCount int    `json:"playerCount"`
	Username    string `json:"username"`
}

// PlayerLeftPayload is sent after a connection leaves or disconnects.
type PlayerLeftPayload struct {
	PlayerID    string `json:"playerId"`
	PlayerCount int    `json:"playerCount"`
}

// GameStartingPayload is intentionally empty on the wire.
type GameStartingPayload struct{}

// TurnGreenPayload carries the server fire time in Unix milliseconds so clients
// can estimate their clock offset.
type TurnGreenPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// RankedScore is one entry of a round's results.
type RankedScore struct {
	PlayerID string  `json:"playerId"`
	Username string  `json:"username,omitempty"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// GameResultsPayload is broadcast once every member has submitted.
type GameResultsPayload struct {
	Scores []RankedScore `json:"scores"`
}

// Broadcaster delivers an event to the listed recipients. Implementations must
// not call back into the coordinator.
type Broadcaster interface {
	Broadcast(recipients []string, event Event)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(recipients []string, event Event)

func (f BroadcasterFunc) Broadcast(recipients []string, event Event) { f(recipients, event) }

// Broadcasters fans an event out to several sinks in order.
type Broadcasters []Broadcaster

func (bs Broadcasters) Broadcast(recipients []string, event Event) {
	for _, b := range bs {
		if b != nil {
			b.Broadcast(recipients, event)
		}
	}
}
