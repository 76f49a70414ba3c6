package main

import (
	"net/http"

	"github.com/myrjola/storyweaver/internal/models"
)

type BaseTemplateData struct {
	// Flash is a one-off notice popped from the session.
	Flash string
	// Refresh reloads the page every second while a story segment is being generated.
	Refresh bool
}

func (app *application) newBaseTemplateData(r *http.Request, state models.State) BaseTemplateData {
	return BaseTemplateData{
		Flash:   app.sessionManager.PopString(r.Context(), flashSessionKey),
		Refresh: state.IsBusy,
	}
}
