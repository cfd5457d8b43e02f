package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds configuration for the NATS bridge
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS bridge configuration
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		SubjectPrefix: "duel.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// natsConn is the part of *nats.Conn the bridge uses
type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// envelope is the JSON body published for every event
type envelope struct {
	Type      EventType   `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	At        time.Time   `json:"at"`
}

// NATSBridge republishes every event of a Publisher onto NATS subjects
// named <prefix>.<event type in lower case>.
type NATSBridge struct {
	conn   natsConn
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewNATSBridge connects to NATS and subscribes the bridge to all events of the publisher
func NewNATSBridge(cfg NATSConfig, publisher *Publisher, logger *zap.Logger) (*NATSBridge, error) {
	opts := []nats.Option{
		nats.Name("duel-server"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	bridge := newBridge(nc, cfg.SubjectPrefix, logger)
	publisher.SubscribeAll(bridge.Handle)

	logger.Info("NATS event bridge connected",
		zap.String("url", cfg.URL),
		zap.String("subject_prefix", bridge.prefix))

	return bridge, nil
}

func newBridge(conn natsConn, prefix string, logger *zap.Logger) *NATSBridge {
	if prefix == "" {
		prefix = "duel.events"
	}

	return &NATSBridge{
		conn:   conn,
		prefix: strings.TrimSuffix(prefix, "."),
		now:    time.Now,
		logger: logger,
	}
}

// Subject returns the NATS subject used for an event type
func (b *NATSBridge) Subject(t EventType) string {
	return b.prefix + "." + strings.ToLower(string(t))
}

// Handle publishes a single event. It is registered as a Publisher handler.
func (b *NATSBridge) Handle(event Event) {
	data, err := json.Marshal(envelope{
		Type:      event.Type,
		SessionID: event.SessionID,
		Payload:   event.Payload,
		At:        b.now().UTC(),
	})
	if err != nil {
		b.logger.Error("failed to marshal event for NATS", zap.Error(err))
		return
	}

	if err := b.conn.Publish(b.Subject(event.Type), data); err != nil {
		b.logger.Warn("failed to publish event to NATS",
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
}

// Close drains the NATS connection
func (b *NATSBridge) Close() error {
	return b.conn.Drain()
}
