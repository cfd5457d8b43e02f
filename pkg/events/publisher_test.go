package events

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishReachesTypedAndWildcardHandlers(t *testing.T) {
	p := NewPublisher()

	typed := make(chan Event, 1)
	all := make(chan Event, 2)

	p.Subscribe(EventSessionStarted, func(e Event) { typed <- e })
	p.SubscribeAll(func(e Event) { all <- e })

	p.Publish(Event{Type: EventSessionStarted, SessionID: "s1"})
	p.Publish(Event{Type: EventSessionEnded, SessionID: "s1"})

	select {
	case e := <-typed:
		assert.Equal(t, EventSessionStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("typed handler not called")
	}

	seen := map[EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-all:
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("wildcard handler not called")
		}
	}
	assert.True(t, seen[EventSessionStarted])
	assert.True(t, seen[EventSessionEnded])
}

func TestNilPublisherDropsEvents(t *testing.T) {
	var p *Publisher
	assert.NotPanics(t, func() {
		p.Publish(Event{Type: EventSessionEnded})
	})
}

type fakeNATS struct {
	mu       sync.Mutex
	subjects []string
	bodies   [][]byte
	err      error
	drained  bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, data)
	return f.err
}

func (f *fakeNATS) Drain() error {
	f.drained = true
	return nil
}

func TestNATSBridgePublishesEnvelope(t *testing.T) {
	conn := &fakeNATS{}
	bridge := newBridge(conn, "duel.events.", zap.NewNop())
	bridge.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	bridge.Handle(Event{
		Type:      EventSessionEnded,
		SessionID: "abc",
		Payload:   map[string]string{"reason": "White wins on time!"},
	})

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "duel.events.session_ended", conn.subjects[0])

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(conn.bodies[0], &body))
	assert.Equal(t, "SESSION_ENDED", body["type"])
	assert.Equal(t, "abc", body["session_id"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["at"])

	require.NoError(t, bridge.Close())
	assert.True(t, conn.drained)
}

func TestNATSBridgeSurvivesPublishErrors(t *testing.T) {
	conn := &fakeNATS{err: errors.New("nats: connection closed")}
	bridge := newBridge(conn, "", zap.NewNop())

	assert.NotPanics(t, func() {
		bridge.Handle(Event{Type: EventMoveRelayed})
	})
	assert.Equal(t, "duel.events.move_relayed", bridge.Subject(EventMoveRelayed))
}
