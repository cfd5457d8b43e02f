// Package server routes websocket traffic between participants, sessions and engines
package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/engine"
	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/game"
	"github.com/tecu23/duel-server/pkg/manager"
	"github.com/tecu23/duel-server/pkg/messages"
)

// InboundHubMessage are the messages that the hub receives
type InboundHubMessage struct {
	Conn    *Connection             // who sent it
	Message messages.InboundMessage // decoded envelope
}

// Hub keeps track of all active connections, keyed by participant. Inbound
// messages are handled one at a time on the Run goroutine and routed to the
// manager or to the engine pool. The hub never holds mu while calling into
// the manager.
type Hub struct {
	mu          sync.RWMutex // Mutex to protect direct access to the connections map.
	connections map[game.ParticipantID]*Connection

	register   chan *Connection       // Incoming registration
	unregister chan *Connection       // Incoming unregistration
	inbound    chan InboundHubMessage // Inbound messages to route
	quit       chan struct{}
	closeOnce  sync.Once

	manager   *manager.Manager
	engines   *engine.Pool // nil when no engine is configured
	publisher *events.Publisher
	logger    *zap.Logger
}

// NewHub creates a new hub. The manager is attached with SetManager since
// it needs the hub as its notifier.
func NewHub(engines *engine.Pool, publisher *events.Publisher, logger *zap.Logger) *Hub {
	return &Hub{
		connections: make(map[game.ParticipantID]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		inbound:     make(chan InboundHubMessage),
		quit:        make(chan struct{}),
		engines:     engines,
		publisher:   publisher,
		logger:      logger,
	}
}

// SetManager attaches the session manager. It must be called before Run.
func (h *Hub) SetManager(m *manager.Manager) {
	h.manager = m
}

// Run is the main execution of the hub
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.registerConnection(conn)

		case conn := <-h.unregister:
			h.unregisterConnection(conn)

		case msg := <-h.inbound:
			h.handleInbound(msg)

		case <-h.quit:
			return
		}
	}
}

// Register adds a connection to the hub
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.quit:
		conn.Close()
	}
}

// Unregister removes a connection and resolves its sessions
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.quit:
	}
}

// Route hands an inbound message to the Run goroutine. It reports false once
// the hub has shut down.
func (h *Hub) Route(msg InboundHubMessage) bool {
	select {
	case h.inbound <- msg:
		return true
	case <-h.quit:
		return false
	}
}

// Notify delivers a message to a participant's connection, if it is still
// connected. It never blocks.
func (h *Hub) Notify(to game.ParticipantID, msg messages.OutboundMessage) {
	h.mu.RLock()
	conn, ok := h.connections[to]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug("dropping message for unknown participant",
			zap.String("participant", string(to)),
			zap.String("event", msg.Event))
		return
	}

	conn.Send(msg)
}

// Count returns the number of registered connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.connections)
}

// Shutdown stops the hub and closes every connection
func (h *Hub) Shutdown() {
	h.closeOnce.Do(func() {
		close(h.quit)

		h.mu.Lock()
		conns := h.connections
		h.connections = make(map[game.ParticipantID]*Connection)
		h.mu.Unlock()

		for _, conn := range conns {
			conn.Close()
		}

		h.logger.Info("hub shut down", zap.Int("connections", len(conns)))
	})
}

func (h *Hub) registerConnection(conn *Connection) {
	h.mu.Lock()
	h.connections[conn.Participant()] = conn
	count := len(h.connections)
	h.mu.Unlock()

	h.logger.Info("New connection registered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("connections", count))

	conn.Send(messages.OutboundMessage{
		Event:   messages.EventConnected,
		Payload: messages.ConnectedPayload{ConnectionID: conn.ID.String()},
	})
}

func (h *Hub) unregisterConnection(conn *Connection) {
	p := conn.Participant()

	h.mu.Lock()
	current, ok := h.connections[p]
	if ok && current == conn {
		delete(h.connections, p)
	}
	count := len(h.connections)
	h.mu.Unlock()

	if !ok || current != conn {
		return
	}

	conn.Close()
	h.stopAnalysis(conn)
	h.manager.OnDisconnect(p)

	h.logger.Info("Connection unregistered",
		zap.String("connection_id", conn.ID.String()),
		zap.Int("connections", count))
}

// handleInbound decodes the payload and routes the message
func (h *Hub) handleInbound(msg InboundHubMessage) {
	conn := msg.Conn
	p := conn.Participant()

	switch msg.Message.Type {
	case messages.TypeJoinRandom:
		var payload messages.JoinRandomPayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid JOIN_RANDOM payload")
			return
		}

		res, err := h.manager.RequestRandomMatch(p, payload.TimeBudget)
		if err != nil {
			conn.SendError(err.Error())
			return
		}

		if res.Status == manager.JoinWaiting {
			conn.Send(messages.OutboundMessage{
				Event:   messages.EventWaiting,
				Payload: messages.WaitingPayload{Message: "Waiting for an opponent..."},
			})
		}

	case messages.TypeJoinRoom:
		var payload messages.JoinRoomPayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid JOIN_ROOM payload")
			return
		}

		res, err := h.manager.RequestFriendMatch(p, payload.RoomKey, payload.TimeBudget)
		if err != nil {
			conn.SendError(err.Error())
			return
		}

		switch res.Status {
		case manager.JoinWaiting:
			conn.Send(messages.OutboundMessage{
				Event: messages.EventWaiting,
				Payload: messages.WaitingPayload{
					Message: "Waiting for your friend to join...",
					RoomKey: res.RoomKey,
				},
			})
		case manager.JoinFull:
			conn.Send(messages.OutboundMessage{
				Event: messages.EventRoomFull,
				Payload: messages.RoomFullPayload{
					RoomKey: res.RoomKey,
					Message: "Room is full",
				},
			})
		}

	case messages.TypeSubmitMove:
		var payload messages.SubmitMovePayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid SUBMIT_MOVE payload")
			return
		}

		move := game.Move{
			From:      payload.Move.From,
			To:        payload.Move.To,
			Promotion: payload.Move.Promotion,
		}

		err := h.manager.SubmitMove(payload.SessionID, p, move)
		switch {
		case err == nil:
		case errors.Is(err, game.ErrOutOfTurn):
			h.logger.Debug("dropping out-of-turn move",
				zap.String("session_id", payload.SessionID),
				zap.String("participant", string(p)),
				zap.String("move", move.UCI()))
		default:
			conn.SendError(err.Error())
		}

	case messages.TypeEndSession:
		var payload messages.SessionPayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid END_SESSION payload")
			return
		}

		session, err := h.manager.Session(payload.SessionID)
		if err != nil {
			h.logger.Debug("END_SESSION for unknown session", zap.String("session_id", payload.SessionID))
			return
		}

		if !session.HasParticipant(p) {
			conn.SendError(game.ErrNotParticipant.Error())
			return
		}

		h.manager.EndSession(payload.SessionID)

	case messages.TypeResign:
		var payload messages.SessionPayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid RESIGN payload")
			return
		}

		if err := h.manager.Resign(payload.SessionID, p); err != nil {
			conn.SendError(err.Error())
		}

	case messages.TypeChat:
		var payload messages.ChatPayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid CHAT payload")
			return
		}

		if err := h.manager.Chat(payload.SessionID, p, payload.Message); err != nil {
			conn.SendError(err.Error())
		}

	case messages.TypeEngineMove:
		var payload messages.EngineMovePayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid ENGINE_MOVE payload")
			return
		}

		h.requestEngineMove(conn, payload)

	case messages.TypeStartAnalysis:
		var payload messages.StartAnalysisPayload
		if !decode(msg, &payload) {
			conn.SendError("Invalid START_ANALYSIS payload")
			return
		}

		h.startAnalysis(conn, payload.FEN)

	case messages.TypeStopAnalysis:
		h.stopAnalysis(conn)

	default:
		conn.SendError("Unknown message type")
	}
}

func (h *Hub) requestEngineMove(conn *Connection, payload messages.EngineMovePayload) {
	if h.engines == nil {
		conn.SendError("Engine is not configured")
		return
	}

	if !engine.ValidFEN(payload.FEN) {
		conn.SendError("Invalid FEN")
		return
	}

	req := EngineRequest(payload)

	h.engines.Get(conn.ID.String()).Submit(conn.ctx, req, func(res engine.Result, err error) {
		if errors.Is(err, context.Canceled) {
			h.logger.Debug("engine request canceled", zap.String("connection_id", conn.ID.String()))
			return
		}

		if err != nil {
			h.logger.Warn("engine request failed",
				zap.String("connection_id", conn.ID.String()),
				zap.Error(err))
			conn.SendError(err.Error())
			return
		}

		conn.Send(messages.OutboundMessage{
			Event: messages.EventEngineMove,
			Payload: messages.EngineMoveResultPayload{
				Move:   res.Move,
				Ponder: res.Ponder,
				SAN:    res.SAN,
			},
		})
	})
}

func (h *Hub) startAnalysis(conn *Connection, fen string) {
	if h.engines == nil {
		conn.SendError("Engine is not configured")
		return
	}

	if !engine.ValidFEN(fen) {
		conn.SendError("Invalid FEN")
		return
	}

	h.stopAnalysis(conn)

	id, err := h.engines.Get(conn.ID.String()).StartAnalysis(fen, func(ev engine.Evaluation) {
		conn.Send(messages.OutboundMessage{
			Event: messages.EventEvaluation,
			Payload: messages.EvaluationPayload{
				Score:    ev.Score,
				Mate:     ev.Mate,
				Depth:    ev.Depth,
				BestLine: ev.PV,
			},
		})
	})
	if err != nil {
		conn.SendError(err.Error())
		return
	}

	conn.analysisID = id
}

func (h *Hub) stopAnalysis(conn *Connection) {
	if h.engines == nil || conn.analysisID == 0 {
		return
	}

	h.engines.Get(conn.ID.String()).StopAnalysis(conn.analysisID)
	conn.analysisID = 0
}

// EngineRequest translates a client engine request into a serializer request
func EngineRequest(payload messages.EngineMovePayload) engine.Request {
	req := engine.Request{FEN: payload.FEN, Depth: payload.Depth}

	switch {
	case payload.SkillLevel != nil:
		req.Strength = engine.SkillLevel(*payload.SkillLevel)
	case payload.Elo > 0:
		req.Strength = engine.TargetElo(payload.Elo)
	}

	return req
}

func decode(msg InboundHubMessage, v interface{}) bool {
	if len(msg.Message.Payload) == 0 {
		return true
	}

	return json.Unmarshal(msg.Message.Payload, v) == nil
}
