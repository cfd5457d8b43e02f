package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/duel-server/pkg/engine"
	"github.com/tecu23/duel-server/pkg/messages"
	"github.com/tecu23/duel-server/pkg/server"
)

// bestMoveTimeout leaves room to write the 504 before the server's write deadline
const bestMoveTimeout = writeTimeout - 5*time.Second

type bestMoveResponse struct {
	Move   string `json:"move"`
	Ponder string `json:"ponder,omitempty"`
	SAN    string `json:"san,omitempty"`
}

// handleBestMove handles POST /api/engine/bestmove for clients that do not
// hold a websocket
func (app *application) handleBestMove(w http.ResponseWriter, r *http.Request) {
	var payload messages.EngineMovePayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !engine.ValidFEN(payload.FEN) {
		writeError(w, http.StatusBadRequest, "Invalid FEN")
		return
	}

	if app.Engines == nil {
		writeError(w, http.StatusServiceUnavailable, "Engine is not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), bestMoveTimeout)
	defer cancel()

	res, err := app.Engines.Get(r.RemoteAddr).BestMove(ctx, server.EngineRequest(payload))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, bestMoveResponse{Move: res.Move, Ponder: res.Ponder, SAN: res.SAN})
	case errors.Is(err, engine.ErrResourceUnavailable), errors.Is(err, engine.ErrClosed), errors.Is(err, engine.ErrEngineExited):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, engine.ErrNoMove):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Engine timed out")
	default:
		app.Logger.Warn("bestmove request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
