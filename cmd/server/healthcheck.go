package main

import (
	"encoding/json"
	"net/http"
	"time"
)

type healthResponse struct {
	Status         string   `json:"status"`
	Uptime         string   `json:"uptime"`
	ActiveSessions int      `json:"active_sessions"`
	Connections    int      `json:"connections"`
	EnginePoolSize int      `json:"engine_pool_size"`
	Engines        []string `json:"engines,omitempty"`
}

// handleHealth handles the GET /health endpoint
func (app *application) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		Uptime:         time.Since(app.StartTime).Round(time.Second).String(),
		ActiveSessions: app.Manager.ActiveSessions(),
		Connections:    app.Hub.Count(),
	}

	if app.Engines != nil {
		resp.EnginePoolSize = app.Engines.Size()
		for _, state := range app.Engines.States() {
			resp.Engines = append(resp.Engines, state.String())
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
