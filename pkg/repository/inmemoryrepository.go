package repository

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/game"
)

var ErrSessionNotFound = errors.New("session not found")

// InMemorySessionRepository is an in-memory store of live sessions, indexed
// by id, room key and seated participant. Its lock is never held while
// calling into a session.
type InMemorySessionRepository struct {
	sessions     map[string]*game.Session
	rooms        map[string]string
	participants map[game.ParticipantID]map[string]struct{}
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository(logger *zap.Logger) *InMemorySessionRepository {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InMemorySessionRepository{
		sessions:     make(map[string]*game.Session),
		rooms:        make(map[string]string),
		participants: make(map[game.ParticipantID]map[string]struct{}),
		logger:       logger,
	}
}

// Save stores a session and indexes it under its room key and the given participants
func (r *InMemorySessionRepository) Save(session *game.Session, participants ...game.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = session
	if session.RoomKey != "" {
		r.rooms[session.RoomKey] = session.ID
	}

	for _, p := range participants {
		r.index(p, session.ID)
	}

	return nil
}

// AddParticipant indexes one more participant against a stored session
func (r *InMemorySessionRepository) AddParticipant(id string, p game.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}

	r.index(p, id)
	return nil
}

// Get retrieves a session by ID
func (r *InMemorySessionRepository) Get(id string) (*game.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// FindByRoom returns the session registered under a room key
func (r *InMemorySessionRepository) FindByRoom(roomKey string) (*game.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.rooms[roomKey]
	if !ok {
		return nil, false
	}

	session, ok := r.sessions[id]
	return session, ok
}

// FindByParticipant returns every stored session the participant is indexed in
func (r *InMemorySessionRepository) FindByParticipant(p game.ParticipantID) []*game.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sessions []*game.Session
	for id := range r.participants[p] {
		if s, ok := r.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}

	return sessions
}

// Remove drops a session and all of its index entries. Removing an unknown
// id is a no-op.
func (r *InMemorySessionRepository) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return false
	}

	delete(r.sessions, id)
	if session.RoomKey != "" && r.rooms[session.RoomKey] == id {
		delete(r.rooms, session.RoomKey)
	}

	for p, ids := range r.participants {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.participants, p)
		}
	}

	r.logger.Debug("removed session", zap.String("session_id", id))
	return true
}

// ListActive returns all active sessions
func (r *InMemorySessionRepository) ListActive() []*game.Session {
	var active []*game.Session
	for _, s := range r.List() {
		if s.Status() == game.StatusActive {
			active = append(active, s)
		}
	}

	return active
}

// List returns every stored session
func (r *InMemorySessionRepository) List() []*game.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*game.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}

	return all
}

// Count returns the number of stored sessions
func (r *InMemorySessionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

func (r *InMemorySessionRepository) index(p game.ParticipantID, id string) {
	if p == "" {
		return
	}

	ids, ok := r.participants[p]
	if !ok {
		ids = make(map[string]struct{})
		r.participants[p] = ids
	}
	ids[id] = struct{}{}
}
