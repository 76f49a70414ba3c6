package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/myrjola/storyweaver/internal/story"
)

type storyTemplateData struct {
	BaseTemplateData

	State models.State
}

func (app *application) showStory(w http.ResponseWriter, r *http.Request) {
	state := app.session.Snapshot()
	data := storyTemplateData{
		BaseTemplateData: app.newBaseTemplateData(r, state),
		State:            state,
	}

	app.render(w, r, http.StatusOK, "story", data)
}

// startStory discards the current story and starts generating a new one. The page refreshes until it arrives.
func (app *application) startStory(w http.ResponseWriter, r *http.Request) {
	if _, err := app.session.StartNewStory(r.Context()); err != nil {
		app.serverError(w, r, errors.Wrap(err, "start new story"))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// selectChoice continues the story with the submitted choice. A choice the session cannot take right now is
// reported with a flash notice.
func (app *application) selectChoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		app.clientError(w, r, http.StatusBadRequest)
		return
	}
	choice := r.PostForm.Get("choice")

	_, err := app.session.SelectChoice(r.Context(), choice)
	switch {
	case err == nil:
	case errors.Is(err, story.ErrBusy):
		app.flash(r, "Please wait, the next part of the story is still being written.")
	case errors.Is(err, story.ErrConcluded):
		app.flash(r, "This story has concluded. Start a new story to keep playing.")
	case errors.Is(err, story.ErrNotStarted):
		app.flash(r, "Start a new story first.")
	default:
		app.serverError(w, r, errors.Wrap(err, "select choice", slog.String("choice", choice)))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (app *application) flash(r *http.Request, msg string) {
	app.logger.LogAttrs(r.Context(), slog.LevelDebug, "choice rejected", slog.String("flash", msg))
	app.sessionManager.Put(r.Context(), flashSessionKey, msg)
}

// storyJSON responds with the current story state.
func (app *application) storyJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(app.session.Snapshot()); err != nil {
		app.logger.LogAttrs(r.Context(), slog.LevelError, "encode story", errors.SlogError(err))
	}
}
