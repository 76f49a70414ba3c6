package play

import (
	"context"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/myrjola/storyweaver/internal/ai"
	"github.com/myrjola/storyweaver/internal/config"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/logging"
	"github.com/myrjola/storyweaver/internal/story"
	"github.com/myrjola/storyweaver/internal/tui"
	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "story",
	Title: "Story",
}

func init() {
	Play.Flags().String("log-file", "", "path to a file receiving debug logs, logs are discarded when empty")
}

var Play = &cobra.Command{
	Use:     "play",
	GroupID: "story",
	Short:   "Play a story in the terminal",
	Long: `Starts a new story in a random genre and lets you steer it by picking choices until it ends.

The generative backend is configured with the same STORYWEAVER_* environment variables as the web server.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logFile, err := cmd.Flags().GetString("log-file")
		if err != nil {
			return errors.Wrap(err, "read log-file flag")
		}
		var logSink io.Writer = io.Discard
		if logFile != "" {
			var f *os.File
			if f, err = os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); err != nil { //nolint:mnd // rw for owner
				return errors.Wrap(err, "open log file", slog.String("path", logFile))
			}
			defer f.Close()
			logSink = f
		}
		logger := slog.New(logging.NewContextHandler(slog.NewTextHandler(logSink, &slog.HandlerOptions{
			AddSource:   true,
			Level:       slog.LevelDebug,
			ReplaceAttr: nil,
		})))
		return run(cmd.Context(), logger, os.LookupEnv)
	},
}

func run(ctx context.Context, logger *slog.Logger, lookupEnv func(string) (string, bool)) error {
	cfg, err := config.Load(lookupEnv)
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	var generator ai.Generator
	if generator, err = ai.New(cfg.Generation, nil); err != nil {
		return errors.Wrap(err, "create generator")
	}
	session := story.NewSession(logger, generator, story.WithTimeout(cfg.Generation.Timeout))
	defer session.Close()

	model := tui.New(ctx, session)
	defer model.Close()
	if _, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return errors.Wrap(err, "run terminal UI")
	}
	return nil
}
