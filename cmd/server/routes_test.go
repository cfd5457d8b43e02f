package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/config"
	"github.com/tecu23/duel-server/pkg/engine"
	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/manager"
	"github.com/tecu23/duel-server/pkg/repository"
	"github.com/tecu23/duel-server/pkg/server"
)

func newTestApp(t *testing.T, origins ...string) *application {
	t.Helper()

	if len(origins) == 0 {
		origins = []string{"*"}
	}

	logger := zap.NewNop()
	publisher := events.NewPublisher()
	hub := server.NewHub(nil, publisher, logger)
	mgr := manager.NewManager(repository.NewInMemoryRepository(logger), hub, publisher, manager.DefaultOptions(), logger)
	hub.SetManager(mgr)

	cfg := &config.Config{}
	cfg.Server.AllowedOrigins = origins

	app := &application{
		Logger:    logger,
		Config:    cfg,
		Publisher: publisher,
		Hub:       hub,
		Manager:   mgr,
		Upgrader:  newUpgrader(origins),
		StartTime: time.Now(),
	}

	go hub.Run()
	t.Cleanup(func() {
		mgr.Shutdown()
		hub.Shutdown()
	})

	return app
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 0, body.ActiveSessions)
	assert.Empty(t, body.Engines)
}

func TestHealthReportsEnginePool(t *testing.T) {
	app := newTestApp(t)
	app.Engines = engine.NewEnginePool(func() (engine.Channel, error) {
		return nil, errors.New("not started in this test")
	}, 2, engine.Options{Logger: zap.NewNop()})
	t.Cleanup(app.Engines.Shutdown)

	rec := httptest.NewRecorder()
	app.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.EnginePoolSize)
	assert.Equal(t, []string{"uninitialized", "uninitialized"}, body.Engines)
}

func TestBestMoveValidation(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed body", `{"fen":`, http.StatusBadRequest},
		{"invalid fen", `{"fen":"not a fen"}`, http.StatusBadRequest},
		{"no engine configured", `{"fen":"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"}`, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/engine/bestmove", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			app.routes().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestBestMoveTimesOutBeforeWriteDeadline(t *testing.T) {
	assert.Greater(t, bestMoveTimeout, time.Duration(0))
	assert.Less(t, bestMoveTimeout, writeTimeout)
}

func TestUnknownMethodIsRejected(t *testing.T) {
	app := newTestApp(t)

	rec := httptest.NewRecorder()
	app.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/engine/bestmove", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSAllowedOrigin(t *testing.T) {
	app := newTestApp(t, "https://play.example.com")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://play.example.com")
	rec := httptest.NewRecorder()
	app.routes().ServeHTTP(rec, req)
	assert.Equal(t, "https://play.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	app.routes().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUpgraderCheckOrigin(t *testing.T) {
	up := newUpgrader([]string{"https://play.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, up.CheckOrigin(req), "no origin header")

	req.Header.Set("Origin", "https://play.example.com")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://other.example.com")
	assert.False(t, up.CheckOrigin(req))

	assert.True(t, newUpgrader([]string{"*"}).CheckOrigin(req))
}
