package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/myrjola/storyweaver/internal/e2etest"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/logging"
	"github.com/myrjola/storyweaver/internal/models"
)

// TestStory starts a new story on the deployed server and plays the first choice.
func TestStory(ctx context.Context, client *e2etest.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute) //nolint:mnd // two generation round trips.
	defer cancel()
	var (
		err   error
		state models.State
	)

	if _, err = client.SubmitForm(ctx, "/", "/stories", nil); err != nil {
		return errors.Wrap(err, "start new story")
	}
	if state, err = client.WaitForStory(ctx); err != nil {
		return errors.Wrap(err, "wait for opening")
	}
	if state.Phase != models.PhasePresenting {
		return errors.New("story did not open", slog.String("error_message", state.ErrorMessage))
	}
	if state.IsEnding || len(state.Choices) == 0 {
		return nil
	}

	fields := map[string][]string{"choice": {state.Choices[0]}}
	if _, err = client.SubmitForm(ctx, "/", "/choices", fields); err != nil {
		return errors.Wrap(err, "select choice", slog.String("choice", state.Choices[0]))
	}
	if state, err = client.WaitForStory(ctx); err != nil {
		return errors.Wrap(err, "wait for continuation")
	}
	if state.Phase != models.PhasePresenting {
		return errors.New("story did not continue", slog.String("error_message", state.ErrorMessage))
	}
	return nil
}

func main() {
	loggerHandler := logging.NewContextHandler(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource:   false,
		Level:       slog.LevelDebug,
		ReplaceAttr: nil,
	}))
	logger := slog.New(loggerHandler)
	ctx := context.Background()

	if len(os.Args) != 2 { //nolint:mnd // we expect only hostname to be passed as argument.
		logger.LogAttrs(ctx, slog.LevelError, "usage: smoketest <hostname>")
		os.Exit(1)
	}

	var (
		hostname = os.Args[1]
		url      = "https://" + hostname
		client   *e2etest.Client
		err      error
	)
	ctx = logging.WithAttrs(ctx, slog.String("hostname", url))

	if client, err = e2etest.NewClient(url); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error creating client", errors.SlogError(err))
		os.Exit(1)
	}
	if err = client.WaitForReady(ctx, "/api/healthy"); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "server not ready", errors.SlogError(err))
		os.Exit(1)
	}
	if err = TestStory(ctx, client); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error testing story", errors.SlogError(err))
		os.Exit(1)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Smoke test successful 🙌")
	os.Exit(0)
}
