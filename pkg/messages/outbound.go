// Package messages defines the websocket wire envelopes and payloads
package messages

// Outbound event names
const (
	EventConnected      = "CONNECTED"
	EventWaiting        = "WAITING"
	EventSessionStarted = "SESSION_STARTED"
	EventRoomFull       = "ROOM_FULL"
	EventOpponentMoved  = "OPPONENT_MOVED"
	EventClockTick      = "CLOCK_TICK"
	EventSessionEnded   = "SESSION_ENDED"
	EventChat           = "CHAT"
	EventEngineMove     = "ENGINE_MOVE"
	EventEvaluation     = "EVALUATION"
	EventError          = "ERROR"
)

// OutboundMessage is how we wrap responses before sending
// them to the client
type OutboundMessage struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

type ConnectedPayload struct {
	ConnectionID string `json:"connection_id"`
}

type WaitingPayload struct {
	Message string `json:"message"`
	RoomKey string `json:"room_key,omitempty"`
}

// SessionStartedPayload tells a participant which seat it holds
type SessionStartedPayload struct {
	SessionID string `json:"session_id"`
	Seat      string `json:"seat"`
	WhiteTime int    `json:"white_time"` // seconds
	BlackTime int    `json:"black_time"`
}

type RoomFullPayload struct {
	RoomKey string `json:"room_key"`
	Message string `json:"message"`
}

type OpponentMovedPayload struct {
	SessionID string      `json:"session_id"`
	Move      MovePayload `json:"move"`
}

// ClockTickPayload contains the remaining time of both seats after a tick
type ClockTickPayload struct {
	SessionID    string `json:"session_id"`
	WhiteTime    int    `json:"white_time"` // seconds
	BlackTime    int    `json:"black_time"`
	ActiveColor  string `json:"active_color"`
	WhiteDisplay string `json:"white_display"`
	BlackDisplay string `json:"black_display"`
}

// SessionEndedPayload is sent once per seat when a session terminates
type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	Winner    string `json:"winner,omitempty"`
}

type ChatMessagePayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
	Sender    string `json:"sender"`
}

type EngineMoveResultPayload struct {
	Move   string `json:"move"`
	Ponder string `json:"ponder,omitempty"`
	SAN    string `json:"san,omitempty"`
}

type EvaluationPayload struct {
	Score    float64  `json:"score"`
	Mate     *int     `json:"mate,omitempty"`
	Depth    int      `json:"depth"`
	BestLine []string `json:"best_line"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
