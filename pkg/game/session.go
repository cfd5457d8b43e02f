// Package game holds the per-session state: seats, turn clock and move relay
package game

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/internal/color"
	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/messages"
)

var (
	ErrNotActive      = errors.New("session is not active")
	ErrSessionEnded   = errors.New("session has ended")
	ErrNotParticipant = errors.New("participant does not hold a seat in this session")
	ErrOutOfTurn      = errors.New("it is not this participant's turn")
	ErrIllegalMove    = errors.New("illegal move")
	ErrSeatTaken      = errors.New("seat is already taken")
	ErrEmptyMessage   = errors.New("empty chat message")
)

// maxChatLength bounds relayed chat lines, in characters
const maxChatLength = 500

// ParticipantID identifies one connected participant
type ParticipantID string

// Status is the lifecycle state of a session
type Status string

const (
	StatusPending Status = "pending"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

// Notifier delivers an outbound message to one participant. Implementations
// must not block: the session calls it while holding its lock so that the
// delivery order matches the order of state changes.
type Notifier interface {
	Notify(to ParticipantID, msg messages.OutboundMessage)
}

// Outcome describes how a session ended
type Outcome struct {
	Reason string
	Winner color.Color // empty when there is no winner
}

// Config carries the collaborators of a session
type Config struct {
	Clock      clockwork.Clock
	TickPeriod time.Duration
	Notifier   Notifier
	Publisher  *events.Publisher
	Oracle     RulesOracle // nil disables legality checks
	OnEnd      func(s *Session, o Outcome)
	Logger     *zap.Logger
}

// State is a point-in-time copy of a session
type State struct {
	ID            string
	RoomKey       string
	White         ParticipantID
	Black         ParticipantID
	TimeRemaining map[color.Color]int
	ToMove        color.Color
	Status        Status
	MoveCount     int
	Outcome       *Outcome
}

// Session is one pairing of two participants. All mutable fields are guarded
// by mu; ticks, moves and terminal events are serialized through it.
type Session struct {
	ID      string
	RoomKey string

	mu sync.Mutex

	white ParticipantID
	black ParticipantID

	timeRemaining map[color.Color]int
	toMove        color.Color
	status        Status
	moveCount     int
	outcome       *Outcome

	clock    *Clock
	oracle   RulesOracle
	notifier Notifier

	publisher *events.Publisher
	onEnd     func(s *Session, o Outcome)
	logger    *zap.Logger
}

// NewSession creates a pending session with white already seated
func NewSession(id, roomKey string, white ParticipantID, cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Session{
		ID:      id,
		RoomKey: roomKey,

		white: white,

		timeRemaining: map[color.Color]int{color.White: 0, color.Black: 0},
		toMove:        color.White,
		status:        StatusPending,

		clock:    NewClock(cfg.Clock, cfg.TickPeriod),
		oracle:   cfg.Oracle,
		notifier: notifier,

		publisher: cfg.Publisher,
		onEnd:     cfg.OnEnd,
		logger:    logger.With(zap.String("session_id", id)),
	}
}

// Join seats a participant in the empty black seat of a pending session
func (s *Session) Join(p ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusEnded {
		return ErrSessionEnded
	}

	if s.status != StatusPending || s.black != "" || s.white == p {
		return ErrSeatTaken
	}

	s.black = p

	return nil
}

// Start activates a pending session with both seats filled, resets both
// remaining times and starts the clock against white. It reports false when
// the session cannot start.
func (s *Session) Start(whiteBudget, blackBudget int) bool {
	s.mu.Lock()

	if s.status != StatusPending || s.white == "" || s.black == "" {
		s.mu.Unlock()
		return false
	}

	s.timeRemaining[color.White] = whiteBudget
	s.timeRemaining[color.Black] = blackBudget
	s.toMove = color.White
	s.status = StatusActive

	for _, c := range []color.Color{color.White, color.Black} {
		s.notifier.Notify(s.occupant(c), messages.OutboundMessage{
			Event: messages.EventSessionStarted,
			Payload: messages.SessionStartedPayload{
				SessionID: s.ID,
				Seat:      string(c),
				WhiteTime: whiteBudget,
				BlackTime: blackBudget,
			},
		})
	}

	s.clock.Start(s.tick)
	white, black := s.white, s.black
	s.mu.Unlock()

	s.logger.Info("session started",
		zap.String("white", string(white)),
		zap.String("black", string(black)),
		zap.Int("white_time", whiteBudget),
		zap.Int("black_time", blackBudget))

	s.publisher.Publish(events.Event{
		Type:      events.EventSessionStarted,
		SessionID: s.ID,
		Payload: map[string]interface{}{
			"white":      string(white),
			"black":      string(black),
			"white_time": whiteBudget,
			"black_time": blackBudget,
		},
	})

	return true
}

// tick debits one unit from the side to move. It is a no-op once the
// session is no longer active.
func (s *Session) tick() {
	s.mu.Lock()

	if s.status != StatusActive {
		s.mu.Unlock()
		return
	}

	side := s.toMove
	if s.timeRemaining[side] > 0 {
		s.timeRemaining[side]--
	}

	s.broadcastLocked(messages.OutboundMessage{
		Event: messages.EventClockTick,
		Payload: messages.ClockTickPayload{
			SessionID:    s.ID,
			WhiteTime:    s.timeRemaining[color.White],
			BlackTime:    s.timeRemaining[color.Black],
			ActiveColor:  string(side),
			WhiteDisplay: FormatClockTime(s.timeRemaining[color.White]),
			BlackDisplay: FormatClockTime(s.timeRemaining[color.Black]),
		},
	})

	if s.timeRemaining[side] > 0 {
		s.mu.Unlock()
		return
	}

	outcome := Outcome{
		Reason: side.Opp().Name() + " wins on time!",
		Winner: side.Opp(),
	}
	ended := s.endLocked(outcome, color.White, color.Black)
	s.mu.Unlock()

	if ended {
		s.afterEnd(outcome)
	}
}

// SubmitMove relays a move from the seat holding the move to the other seat
// and flips the turn. Moves from the other seat are rejected without any
// state change or broadcast.
func (s *Session) SubmitMove(p ParticipantID, move Move) error {
	s.mu.Lock()

	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	seat, ok := s.seatOf(p)
	if !ok {
		s.mu.Unlock()
		return ErrNotParticipant
	}

	if seat != s.toMove {
		s.mu.Unlock()
		return ErrOutOfTurn
	}

	var verdict Verdict
	if s.oracle != nil {
		v, err := s.oracle.Apply(move)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		verdict = v
	}

	s.notifier.Notify(s.occupant(seat.Opp()), messages.OutboundMessage{
		Event: messages.EventOpponentMoved,
		Payload: messages.OpponentMovedPayload{
			SessionID: s.ID,
			Move: messages.MovePayload{
				From:      move.From,
				To:        move.To,
				Promotion: move.Promotion,
			},
		},
	})

	s.toMove = s.toMove.Opp()
	s.moveCount++
	moveCount := s.moveCount

	var outcome Outcome
	ended := false
	if verdict.Over {
		outcome = Outcome{Reason: verdict.Reason, Winner: verdict.Winner}
		ended = s.endLocked(outcome, color.White, color.Black)
	}
	s.mu.Unlock()

	s.logger.Debug("move relayed",
		zap.String("participant", string(p)),
		zap.String("seat", string(seat)),
		zap.String("move", move.UCI()))

	s.publisher.Publish(events.Event{
		Type:      events.EventMoveRelayed,
		SessionID: s.ID,
		Payload: map[string]interface{}{
			"seat":       string(seat),
			"move":       move.UCI(),
			"move_count": moveCount,
		},
	})

	if ended {
		s.afterEnd(outcome)
	}

	return nil
}

// Resign ends an active session in favour of the other seat
func (s *Session) Resign(p ParticipantID) error {
	s.mu.Lock()

	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	seat, ok := s.seatOf(p)
	if !ok {
		s.mu.Unlock()
		return ErrNotParticipant
	}

	outcome := Outcome{
		Reason: seat.Opp().Name() + " wins by resignation",
		Winner: seat.Opp(),
	}
	ended := s.endLocked(outcome, color.White, color.Black)
	s.mu.Unlock()

	if ended {
		s.afterEnd(outcome)
	}

	return nil
}

// Forfeit ends the session because p left. The remaining seat, if any, is
// declared the winner and is the only one notified.
func (s *Session) Forfeit(p ParticipantID, reason string) bool {
	s.mu.Lock()

	seat, ok := s.seatOf(p)
	if !ok {
		s.mu.Unlock()
		return false
	}

	outcome := Outcome{Reason: reason}
	if s.occupant(seat.Opp()) != "" {
		outcome.Winner = seat.Opp()
	}

	ended := s.endLocked(outcome, seat.Opp())
	s.mu.Unlock()

	if ended {
		s.afterEnd(outcome)
	}

	return ended
}

// End terminates the session without a winner and notifies both seats.
// Calling it more than once is a no-op.
func (s *Session) End(reason string) bool {
	s.mu.Lock()
	outcome := Outcome{Reason: reason}
	ended := s.endLocked(outcome, color.White, color.Black)
	s.mu.Unlock()

	if ended {
		s.afterEnd(outcome)
	}

	return ended
}

// Chat relays a chat line to the other seat
func (s *Session) Chat(from ParticipantID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	if utf8.RuneCountInString(text) > maxChatLength {
		text = string([]rune(text)[:maxChatLength])
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.activeLocked(); err != nil {
		return err
	}

	seat, ok := s.seatOf(from)
	if !ok {
		return ErrNotParticipant
	}

	s.notifier.Notify(s.occupant(seat.Opp()), messages.OutboundMessage{
		Event: messages.EventChat,
		Payload: messages.ChatMessagePayload{
			SessionID: s.ID,
			Message:   text,
			Sender:    string(seat),
		},
	})

	return nil
}

// SeatOf returns the seat held by p
func (s *Session) SeatOf(p ParticipantID) (color.Color, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.seatOf(p)
}

// HasParticipant reports whether p holds a seat
func (s *Session) HasParticipant(p ParticipantID) bool {
	_, ok := s.SeatOf(p)
	return ok
}

// Status returns the lifecycle state
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status
}

// ClockRunning reports whether the session holds a live tick registration
func (s *Session) ClockRunning() bool {
	return s.clock.Running()
}

// Snapshot returns a copy of the session state
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := State{
		ID:      s.ID,
		RoomKey: s.RoomKey,
		White:   s.white,
		Black:   s.black,
		TimeRemaining: map[color.Color]int{
			color.White: s.timeRemaining[color.White],
			color.Black: s.timeRemaining[color.Black],
		},
		ToMove:    s.toMove,
		Status:    s.status,
		MoveCount: s.moveCount,
	}

	if s.outcome != nil {
		o := *s.outcome
		state.Outcome = &o
	}

	return state
}

func (s *Session) activeLocked() error {
	switch s.status {
	case StatusActive:
		return nil
	case StatusEnded:
		return ErrSessionEnded
	default:
		return ErrNotActive
	}
}

func (s *Session) seatOf(p ParticipantID) (color.Color, bool) {
	switch {
	case p == "":
		return "", false
	case p == s.white:
		return color.White, true
	case p == s.black:
		return color.Black, true
	default:
		return "", false
	}
}

func (s *Session) occupant(c color.Color) ParticipantID {
	if c == color.White {
		return s.white
	}

	return s.black
}

func (s *Session) broadcastLocked(msg messages.OutboundMessage) {
	for _, c := range []color.Color{color.White, color.Black} {
		if p := s.occupant(c); p != "" {
			s.notifier.Notify(p, msg)
		}
	}
}

// endLocked marks the session ended, cancels the clock and notifies the
// given seats. Only the first call has any effect.
func (s *Session) endLocked(o Outcome, notify ...color.Color) bool {
	if s.status == StatusEnded {
		return false
	}

	s.status = StatusEnded
	s.outcome = &o
	s.clock.Stop()

	msg := messages.OutboundMessage{
		Event: messages.EventSessionEnded,
		Payload: messages.SessionEndedPayload{
			SessionID: s.ID,
			Reason:    o.Reason,
			Winner:    string(o.Winner),
		},
	}

	for _, c := range notify {
		if p := s.occupant(c); p != "" {
			s.notifier.Notify(p, msg)
		}
	}

	return true
}

// afterEnd runs outside the session lock once the session has ended
func (s *Session) afterEnd(o Outcome) {
	s.logger.Info("session ended",
		zap.String("reason", o.Reason),
		zap.String("winner", string(o.Winner)))

	s.publisher.Publish(events.Event{
		Type:      events.EventSessionEnded,
		SessionID: s.ID,
		Payload: map[string]interface{}{
			"reason": o.Reason,
			"winner": string(o.Winner),
		},
	})

	if s.onEnd != nil {
		s.onEnd(s, o)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(ParticipantID, messages.OutboundMessage) {}
