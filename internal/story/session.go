// Package story implements the interactive story session: the state machine that drives generation requests and
// owns the transcript.
package story

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/myrjola/storyweaver/internal/ai"
	"github.com/myrjola/storyweaver/internal/broker"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/logging"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/myrjola/storyweaver/internal/prompt"
	"github.com/myrjola/storyweaver/internal/random"
)

// Texts shown to the reader.
const (
	WelcomeText    = "Welcome to the Multi-Ending Story Generator! Click 'Start New Story' to begin your adventure."
	StartingText   = "Generating your story..."
	ContinuingText = "Continuing your adventure..."
	FailureText    = "An error occurred. Please try starting a new story."
)

const (
	storyIDLength  = 12
	DefaultTimeout = 60 * time.Second
)

var (
	ErrBusy       = errors.NewSentinel("a story segment is being generated")
	ErrConcluded  = errors.NewSentinel("the story has concluded")
	ErrNotStarted = errors.NewSentinel("no story has been started")
	ErrClosed     = errors.NewSentinel("session is closed")
)

// Session is the story state machine.
//
// All state is guarded by mu. At most one generation request is outstanding. Starting a new story supersedes the
// outstanding request, whose result is then discarded by comparing request generations.
type Session struct {
	logger    *slog.Logger
	generator ai.Generator
	states    *broker.Broadcaster[models.State]
	now       func() time.Time
	rand      *rand.Rand
	genres    []string
	timeout   time.Duration

	mu         sync.Mutex
	state      models.State
	transcript models.Transcript
	generation uint64
	cancel     context.CancelFunc
	closed     bool
}

type Option func(*Session)

// WithClock sets the clock the start prompt seed is derived from.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithRand sets the random source genres are picked with.
func WithRand(r *rand.Rand) Option {
	return func(s *Session) {
		s.rand = r
	}
}

// WithGenres replaces the genre catalogue.
func WithGenres(genres []string) Option {
	return func(s *Session) {
		s.genres = genres
	}
}

// WithTimeout bounds each generation request.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Session) {
		s.timeout = timeout
	}
}

// NewSession creates an idle session. Close releases it.
func NewSession(logger *slog.Logger, generator ai.Generator, opts ...Option) *Session {
	s := &Session{
		logger:    logger,
		generator: generator,
		states:    broker.NewBroadcaster[models.State](),
		now:       time.Now,
		rand:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())), //nolint:gosec // genre pick needs no crypto.
		genres:    prompt.Genres,
		timeout:   DefaultTimeout,
		mu:        sync.Mutex{},
		state: models.State{ //nolint:exhaustruct // idle state has no story yet.
			Phase:         models.PhaseIdle,
			NarrativeText: WelcomeText,
			Choices:       []string{},
		},
		transcript: models.Transcript{},
		generation: 0,
		cancel:     nil,
		closed:     false,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.states.Start()
	s.states.Publish(s.state.Clone())
	return s
}

// StartNewStory discards the current story and requests the opening of a new one in a random genre.
//
// It is accepted in every phase. The returned channel yields the resting state once the opening arrives and is
// closed without a value if the request is superseded.
func (s *Session) StartNewStory(ctx context.Context) (<-chan models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	genre, err := prompt.PickGenre(s.rand, s.genres)
	if err != nil {
		return nil, errors.Wrap(err, "pick genre")
	}
	var storyID string
	if storyID, err = random.Letters(storyIDLength); err != nil {
		return nil, errors.Wrap(err, "generate story ID")
	}
	instruction := prompt.BuildStartPrompt(genre, s.now().UnixMilli())

	s.transcript = models.Transcript{}
	s.state = models.State{
		Phase:         models.PhaseBusy,
		StoryID:       storyID,
		Genre:         genre,
		NarrativeText: StartingText,
		Choices:       []string{},
		IsEnding:      false,
		IsBusy:        true,
		ErrorMessage:  "",
		TurnCount:     0,
	}
	ctx = logging.WithAttrs(ctx, slog.String("story_id", storyID), slog.String("genre", genre))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "start new story")
	return s.dispatch(ctx, instruction), nil
}

// SelectChoice continues the story with the chosen action. The choice text is forwarded verbatim.
//
// It is rejected with ErrBusy while a request is outstanding, with ErrConcluded after an ending or a failure and
// with ErrNotStarted before the first story. A rejected call leaves the session untouched.
func (s *Session) SelectChoice(ctx context.Context, choice string) (<-chan models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return nil, ErrClosed
	case s.state.Phase == models.PhaseBusy:
		return nil, ErrBusy
	case s.state.Phase == models.PhaseIdle:
		return nil, ErrNotStarted
	case s.state.Phase == models.PhaseFailed, s.state.IsEnding:
		return nil, ErrConcluded
	}

	instruction := prompt.BuildContinuationPrompt(choice)
	s.state = models.State{
		Phase:         models.PhaseBusy,
		StoryID:       s.state.StoryID,
		Genre:         s.state.Genre,
		NarrativeText: ContinuingText,
		Choices:       []string{},
		IsEnding:      false,
		IsBusy:        true,
		ErrorMessage:  "",
		TurnCount:     s.transcript.Len(),
	}
	ctx = logging.WithAttrs(ctx, slog.String("story_id", s.state.StoryID), slog.String("genre", s.state.Genre))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "select choice", slog.String("choice", choice))
	return s.dispatch(ctx, instruction), nil
}

// dispatch publishes the busy state and runs the generation request in the background. Caller must hold mu.
//
// The request context is detached from ctx cancellation because callers such as HTTP handlers return before the
// model answers. It is bounded by the session timeout instead.
func (s *Session) dispatch(ctx context.Context, instruction string) <-chan models.State {
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	generation := s.generation
	ctx = logging.WithAttrs(ctx, slog.Uint64("request_generation", generation))
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	s.cancel = cancel
	turns := s.transcript.Turns()
	s.states.Publish(s.state.Clone())

	done := make(chan models.State, 1)
	go func() {
		defer cancel()
		defer close(done)
		start := time.Now()
		result, err := s.generator.Generate(ctx, turns, instruction)
		s.logger.LogAttrs(ctx, slog.LevelDebug, "generation finished", slog.Duration("duration", time.Since(start)))
		if state, ok := s.complete(ctx, generation, instruction, result, err); ok {
			done <- state
		}
	}()
	return done
}

// complete applies the outcome of request generation unless it has been superseded.
func (s *Session) complete(
	ctx context.Context,
	generation uint64,
	instruction string,
	result ai.Generation,
	err error,
) (models.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || generation != s.generation {
		s.logger.LogAttrs(ctx, slog.LevelDebug, "discard superseded generation", slog.Bool("failed", err != nil))
		return models.State{}, false //nolint:exhaustruct // discarded.
	}
	s.cancel = nil

	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "generate story segment", errors.SlogError(err))
		s.state = models.State{
			Phase:         models.PhaseFailed,
			StoryID:       s.state.StoryID,
			Genre:         s.state.Genre,
			NarrativeText: FailureText,
			Choices:       []string{},
			IsEnding:      true,
			IsBusy:        false,
			ErrorMessage:  fmt.Sprintf("Failed to generate story: %s. Please try again.", ai.DisplayMessage(err)),
			TurnCount:     s.transcript.Len(),
		}
	} else {
		s.transcript = s.transcript.Append(
			models.Turn{Role: models.RoleUser, Content: instruction},
			models.Turn{Role: models.RoleModel, Content: result.Raw},
		)
		segment := result.Segment.Normalized()
		s.state = models.State{
			Phase:         models.PhasePresenting,
			StoryID:       s.state.StoryID,
			Genre:         s.state.Genre,
			NarrativeText: segment.Text,
			Choices:       segment.Choices,
			IsEnding:      segment.IsEnding,
			IsBusy:        false,
			ErrorMessage:  "",
			TurnCount:     s.transcript.Len(),
		}
		if s.state.IsEnding {
			s.logger.LogAttrs(ctx, slog.LevelInfo, "story reached an ending", slog.Int("turns", s.transcript.Len()))
		}
	}
	state := s.state.Clone()
	s.states.Publish(state)
	return state, true
}

// Snapshot returns the current state.
func (s *Session) Snapshot() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Transcript returns a copy of the turns of the current story.
func (s *Session) Transcript() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Turns()
}

// Subscribe returns a channel receiving every state transition, starting with the current state. Subscribers that
// fall behind only receive the latest state. The returned function ends the subscription.
func (s *Session) Subscribe() (<-chan models.State, func()) {
	c := s.states.Subscribe()
	return c, func() {
		s.states.Unsubscribe(c)
	}
}

// Close cancels the outstanding request and closes all subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.states.Stop()
}
