package main

import (
	"net/http"

	"github.com/justinas/alice"
	"github.com/myrjola/storyweaver/ui"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /static/", cacheForeverHeaders(http.FileServerFS(ui.Files)))

	dynamic := alice.New(app.sessionManager.LoadAndSave, app.noSurf, commonContext)

	mux.Handle("GET /{$}", dynamic.ThenFunc(app.showStory))
	mux.Handle("POST /stories", dynamic.ThenFunc(app.startStory))
	mux.Handle("POST /choices", dynamic.ThenFunc(app.selectChoice))

	mux.HandleFunc("GET /api/story", app.storyJSON)
	mux.HandleFunc("GET /api/healthy", app.healthy)
	mux.Handle("GET /metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})) //nolint:exhaustruct // defaults.

	mux.Handle("/", http.HandlerFunc(app.notFound))

	standard := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	return standard.Then(mux)
}
