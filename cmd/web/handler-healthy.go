package main

import (
	"encoding/json"
	"net/http"

	"github.com/myrjola/storyweaver/internal/models"
)

type healthResponse struct {
	Status string       `json:"status"`
	Phase  models.Phase `json:"phase"`
}

// healthy reports that the server is up together with the phase of the story session.
func (app *application) healthy(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok", Phase: app.session.Snapshot().Phase})
}
