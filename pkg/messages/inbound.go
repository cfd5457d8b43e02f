package messages

import "encoding/json"

// Inbound message types
const (
	TypeJoinRandom    = "JOIN_RANDOM"
	TypeJoinRoom      = "JOIN_ROOM"
	TypeSubmitMove    = "SUBMIT_MOVE"
	TypeEndSession    = "END_SESSION"
	TypeResign        = "RESIGN"
	TypeChat          = "CHAT"
	TypeEngineMove    = "ENGINE_MOVE"
	TypeStartAnalysis = "START_ANALYSIS"
	TypeStopAnalysis  = "STOP_ANALYSIS"
)

// InboundMessage is the generic wrapper for messages coming from the client.
// The "type" field tells us the action; "payload" is the data we parse further.
type InboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinRandomPayload asks to be paired with the next random opponent
type JoinRandomPayload struct {
	TimeBudget int `json:"time_budget"` // seconds
}

// JoinRoomPayload asks to join (or create) a friend room
type JoinRoomPayload struct {
	RoomKey    string `json:"room_key"`
	TimeBudget int    `json:"time_budget"` // seconds
}

// MovePayload is the move data relayed between seats
type MovePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// SubmitMovePayload represents the payload for making a move during a session
type SubmitMovePayload struct {
	SessionID string      `json:"session_id"`
	Move      MovePayload `json:"move"`
}

// SessionPayload references a session for END_SESSION and RESIGN
type SessionPayload struct {
	SessionID string `json:"session_id"`
}

// ChatPayload is a chat line sent to the opponent
type ChatPayload struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// EngineMovePayload asks the computer opponent for a move
type EngineMovePayload struct {
	FEN        string `json:"fen"`
	SkillLevel *int   `json:"skill_level,omitempty"`
	Elo        int    `json:"elo,omitempty"`
	Depth      int    `json:"depth,omitempty"`
}

// StartAnalysisPayload starts an evaluation stream on a position
type StartAnalysisPayload struct {
	FEN string `json:"fen"`
}
