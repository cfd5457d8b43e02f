// Package manager owns the live sessions and pairs participants into them
package manager

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/internal/color"
	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/game"
	"github.com/tecu23/duel-server/pkg/repository"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTimeBudget = errors.New("invalid time budget")
	ErrRoomKeyRequired   = errors.New("room key is required")
	ErrShuttingDown      = errors.New("manager is shutting down")
)

const (
	DefaultTimeBudget = 600      // seconds
	MaxTimeBudget     = 3 * 3600 // seconds

	ReasonDisconnected = "Opponent disconnected. You win!"
	ReasonEnded        = "Session ended"
	ReasonShutdown     = "Server shutting down"
)

// JoinStatus is the outcome of a matchmaking request
type JoinStatus string

const (
	JoinWaiting JoinStatus = "waiting"
	JoinStarted JoinStatus = "started"
	JoinFull    JoinStatus = "full"
)

// JoinResult is reported back to the participant that asked to join
type JoinResult struct {
	Status    JoinStatus
	SessionID string
	Seat      color.Color
	RoomKey   string
}

// Options configures the manager
type Options struct {
	DefaultTimeBudget int
	MaxTimeBudget     int
	TickPeriod        time.Duration
	EnforceRules      bool
	Clock             clockwork.Clock
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		DefaultTimeBudget: DefaultTimeBudget,
		MaxTimeBudget:     MaxTimeBudget,
		TickPeriod:        game.DefaultTickPeriod,
		EnforceRules:      true,
	}
}

type waitingEntry struct {
	participant game.ParticipantID
	budget      int
}

// Manager is the session registry and matchmaker. mu guards the waiting slot
// and the pending room budgets and makes every pairing a single atomic step.
// It may be held while calling into a session, but session end paths are
// always invoked with mu released since they call back into sessionEnded.
type Manager struct {
	mu          sync.Mutex
	waiting     *waitingEntry
	roomBudgets map[string]int // pending friend sessions by id
	closed      bool

	repo      *repository.InMemorySessionRepository
	notifier  game.Notifier
	publisher *events.Publisher
	opts      Options
	logger    *zap.Logger
}

// NewManager creates a new manager with in-memory storage
func NewManager(
	repo *repository.InMemorySessionRepository,
	notifier game.Notifier,
	publisher *events.Publisher,
	opts Options,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.DefaultTimeBudget <= 0 {
		opts.DefaultTimeBudget = DefaultTimeBudget
	}
	if opts.MaxTimeBudget <= 0 {
		opts.MaxTimeBudget = MaxTimeBudget
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	if repo == nil {
		repo = repository.NewInMemoryRepository(logger)
	}

	return &Manager{
		roomBudgets: make(map[string]int),
		repo:        repo,
		notifier:    notifier,
		publisher:   publisher,
		opts:        opts,
		logger:      logger,
	}
}

// RequestRandomMatch pairs p with the waiting participant, or makes p the
// waiting participant when there is nobody else to pair with.
func (m *Manager) RequestRandomMatch(p game.ParticipantID, budget int) (JoinResult, error) {
	budget, err := m.normalizeBudget(budget)
	if err != nil {
		return JoinResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return JoinResult{}, ErrShuttingDown
	}

	if m.waiting == nil || m.waiting.participant == p {
		m.waiting = &waitingEntry{participant: p, budget: budget}

		m.logger.Info("participant waiting for random match",
			zap.String("participant", string(p)),
			zap.Int("time_budget", budget))

		m.publisher.Publish(events.Event{
			Type:    events.EventParticipantWaiting,
			Payload: map[string]interface{}{"participant": string(p), "time_budget": budget},
		})

		return JoinResult{Status: JoinWaiting}, nil
	}

	first := *m.waiting
	m.waiting = nil

	session := m.newSession("", first.participant)
	if err := session.Join(p); err != nil {
		return JoinResult{}, fmt.Errorf("seat second participant: %w", err)
	}

	if err := m.repo.Save(session, first.participant, p); err != nil {
		return JoinResult{}, err
	}
	m.publishCreated(session)

	session.Start(first.budget, budget)

	return JoinResult{Status: JoinStarted, SessionID: session.ID, Seat: color.Black}, nil
}

// RequestFriendMatch joins or creates the session registered under roomKey.
// The creator's budget applies to both seats.
func (m *Manager) RequestFriendMatch(p game.ParticipantID, roomKey string, budget int) (JoinResult, error) {
	if roomKey == "" {
		return JoinResult{}, ErrRoomKeyRequired
	}

	budget, err := m.normalizeBudget(budget)
	if err != nil {
		return JoinResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return JoinResult{}, ErrShuttingDown
	}

	if existing, ok := m.repo.FindByRoom(roomKey); ok {
		state := existing.Snapshot()

		switch {
		case state.Status == game.StatusEnded:
			// ended but not yet unregistered; the room is free again
			m.repo.Remove(existing.ID)
			delete(m.roomBudgets, existing.ID)

		case state.Status == game.StatusPending && state.White == p:
			return JoinResult{Status: JoinWaiting, SessionID: existing.ID, Seat: color.White, RoomKey: roomKey}, nil

		case state.Status == game.StatusPending && state.Black == "":
			if err := existing.Join(p); err != nil {
				return JoinResult{}, err
			}
			if err := m.repo.AddParticipant(existing.ID, p); err != nil {
				return JoinResult{}, err
			}

			creatorBudget := m.roomBudgets[existing.ID]
			delete(m.roomBudgets, existing.ID)

			existing.Start(creatorBudget, creatorBudget)

			return JoinResult{Status: JoinStarted, SessionID: existing.ID, Seat: color.Black, RoomKey: roomKey}, nil

		default:
			m.logger.Debug("room is full",
				zap.String("room_key", roomKey),
				zap.String("participant", string(p)))

			return JoinResult{Status: JoinFull, SessionID: existing.ID, RoomKey: roomKey}, nil
		}
	}

	session := m.newSession(roomKey, p)
	if err := m.repo.Save(session, p); err != nil {
		return JoinResult{}, err
	}
	m.roomBudgets[session.ID] = budget
	m.publishCreated(session)

	m.logger.Info("room created",
		zap.String("room_key", roomKey),
		zap.String("session_id", session.ID),
		zap.String("participant", string(p)))

	return JoinResult{Status: JoinWaiting, SessionID: session.ID, Seat: color.White, RoomKey: roomKey}, nil
}

// SubmitMove relays a move within a session
func (m *Manager) SubmitMove(id string, p game.ParticipantID, move game.Move) error {
	session, err := m.Session(id)
	if err != nil {
		return err
	}

	return session.SubmitMove(p, move)
}

// Resign ends a session in favour of p's opponent
func (m *Manager) Resign(id string, p game.ParticipantID) error {
	session, err := m.Session(id)
	if err != nil {
		return err
	}

	return session.Resign(p)
}

// Chat relays a chat line to p's opponent
func (m *Manager) Chat(id string, p game.ParticipantID, text string) error {
	session, err := m.Session(id)
	if err != nil {
		return err
	}

	return session.Chat(p, text)
}

// EndSession terminates and unregisters a session. Unknown ids and repeated
// calls are no-ops.
func (m *Manager) EndSession(id string) {
	session, err := m.repo.Get(id)
	if err != nil {
		return
	}

	if !session.End(ReasonEnded) {
		// already ended; make sure it is gone
		m.sessionEnded(session, game.Outcome{})
	}
}

// OnDisconnect clears p from the waiting slot and forfeits every session
// p holds a seat in.
func (m *Manager) OnDisconnect(p game.ParticipantID) {
	m.mu.Lock()
	if m.waiting != nil && m.waiting.participant == p {
		m.waiting = nil
		m.logger.Info("waiting participant left", zap.String("participant", string(p)))
	}
	m.mu.Unlock()

	for _, session := range m.repo.FindByParticipant(p) {
		if session.Forfeit(p, ReasonDisconnected) {
			m.logger.Info("session forfeited on disconnect",
				zap.String("session_id", session.ID),
				zap.String("participant", string(p)))
		}
	}
}

// Session returns a live session by id
func (m *Manager) Session(id string) (*game.Session, error) {
	session, err := m.repo.Get(id)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// ActiveSessions returns the number of sessions with a running clock
func (m *Manager) ActiveSessions() int {
	return len(m.repo.ListActive())
}

// isWaiting reports whether p holds the random-match waiting slot
func (m *Manager) isWaiting(p game.ParticipantID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.waiting != nil && m.waiting.participant == p
}

// Shutdown rejects further joins and ends every live session
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	m.waiting = nil
	m.mu.Unlock()

	sessions := m.repo.List()
	for _, session := range sessions {
		if !session.End(ReasonShutdown) {
			m.sessionEnded(session, game.Outcome{})
		}
	}

	m.logger.Info("manager shut down", zap.Int("sessions_ended", len(sessions)))
}

func (m *Manager) newSession(roomKey string, white game.ParticipantID) *game.Session {
	var oracle game.RulesOracle
	if m.opts.EnforceRules {
		oracle = game.NewChessOracle()
	}

	return game.NewSession(uuid.NewString(), roomKey, white, game.Config{
		Clock:      m.opts.Clock,
		TickPeriod: m.opts.TickPeriod,
		Notifier:   m.notifier,
		Publisher:  m.publisher,
		Oracle:     oracle,
		OnEnd:      m.sessionEnded,
		Logger:     m.logger,
	})
}

// sessionEnded unregisters a session once it has ended. The session has
// already stopped its clock by the time this runs.
func (m *Manager) sessionEnded(s *game.Session, _ game.Outcome) {
	m.mu.Lock()
	delete(m.roomBudgets, s.ID)
	m.mu.Unlock()

	m.repo.Remove(s.ID)
}

func (m *Manager) normalizeBudget(budget int) (int, error) {
	if budget <= 0 {
		return m.opts.DefaultTimeBudget, nil
	}

	if budget > m.opts.MaxTimeBudget {
		return 0, fmt.Errorf("%w: %d exceeds %d seconds", ErrInvalidTimeBudget, budget, m.opts.MaxTimeBudget)
	}

	return budget, nil
}

func (m *Manager) publishCreated(s *game.Session) {
	m.publisher.Publish(events.Event{
		Type:      events.EventSessionCreated,
		SessionID: s.ID,
		Payload:   map[string]interface{}{"room_key": s.RoomKey},
	})
}
