package story_test

import (
	"context"
	"io"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/myrjola/storyweaver/internal/ai"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/myrjola/storyweaver/internal/prompt"
	"github.com/myrjola/storyweaver/internal/story"
	"github.com/myrjola/storyweaver/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

const (
	caveRaw    = `{"storySegment":"You enter a cave.","choices":["Light a torch","Turn back"],"isEnding":false}`
	testGenre  = "a pirate treasure hunt"
	testMillis = int64(1718000000000)
)

var cave = ai.Generation{
	Segment: models.Segment{Text: "You enter a cave.", Choices: []string{"Light a torch", "Turn back"}, IsEnding: false},
	Raw:     caveRaw,
}

type reply struct {
	generation ai.Generation
	err        error
}

// call is one Generate invocation waiting for the test to answer it.
type call struct {
	ctx         context.Context
	turns       []models.Turn
	instruction string
	reply       chan reply
}

func (c *call) respond(generation ai.Generation) {
	c.reply <- reply{generation: generation, err: nil}
}

func (c *call) fail(err error) {
	c.reply <- reply{generation: ai.Generation{}, err: err}
}

type fakeGenerator struct {
	calls chan *call
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{calls: make(chan *call, 10)}
}

func (f *fakeGenerator) Generate(ctx context.Context, turns []models.Turn, instruction string) (ai.Generation, error) {
	c := &call{ctx: ctx, turns: turns, instruction: instruction, reply: make(chan reply, 1)}
	f.calls <- c
	select {
	case r := <-c.reply:
		return r.generation, r.err
	case <-ctx.Done():
		return ai.Generation{}, errors.Wrap(ctx.Err(), "fake generate")
	}
}

func (f *fakeGenerator) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for generation request")
		return nil
	}
}

func (f *fakeGenerator) requireNoCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected generation request %q", c.instruction)
	case <-time.After(50 * time.Millisecond):
	}
}

func await(t *testing.T, done <-chan models.State) models.State {
	t.Helper()
	select {
	case state, ok := <-done:
		require.True(t, ok, "request was superseded")
		return state
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for resting state")
		return models.State{}
	}
}

func newSession(t *testing.T, generator ai.Generator, opts ...story.Option) *story.Session {
	t.Helper()
	defaults := []story.Option{
		story.WithClock(func() time.Time { return time.UnixMilli(testMillis) }),
		story.WithRand(rand.New(rand.NewPCG(1, 2))), //nolint:gosec // deterministic test source.
		story.WithGenres([]string{testGenre}),
	}
	s := story.NewSession(testhelpers.NewLogger(io.Discard), generator, append(defaults, opts...)...)
	t.Cleanup(s.Close)
	return s
}

// startStory starts a story and answers the opening request with cave.
func startStory(t *testing.T, s *story.Session, generator *fakeGenerator) models.State {
	t.Helper()
	done, err := s.StartNewStory(context.Background())
	require.NoError(t, err)
	generator.next(t).respond(cave)
	return await(t, done)
}

func TestSessionIdle(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)

	state := s.Snapshot()
	require.Equal(t, models.PhaseIdle, state.Phase)
	require.Equal(t, story.WelcomeText, state.NarrativeText)
	require.Empty(t, state.Choices)
	require.False(t, state.IsBusy)
	require.False(t, state.CanChoose())

	_, err := s.SelectChoice(context.Background(), "Light a torch")
	require.ErrorIs(t, err, story.ErrNotStarted)
	generator.requireNoCall(t)
	require.Equal(t, state, s.Snapshot())
}

func TestSessionStartNewStory(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)

	done, err := s.StartNewStory(context.Background())
	require.NoError(t, err)

	busy := s.Snapshot()
	require.Equal(t, models.PhaseBusy, busy.Phase)
	require.True(t, busy.IsBusy)
	require.Empty(t, busy.Choices)
	require.Empty(t, busy.ErrorMessage)
	require.Equal(t, story.StartingText, busy.NarrativeText)
	require.Equal(t, testGenre, busy.Genre)
	require.Len(t, busy.StoryID, 12)

	c := generator.next(t)
	require.Empty(t, c.turns)
	require.Equal(t, prompt.BuildStartPrompt(testGenre, testMillis), c.instruction)
	c.respond(cave)

	state := await(t, done)
	require.Equal(t, models.State{
		Phase:         models.PhasePresenting,
		StoryID:       busy.StoryID,
		Genre:         testGenre,
		NarrativeText: "You enter a cave.",
		Choices:       []string{"Light a torch", "Turn back"},
		IsEnding:      false,
		IsBusy:        false,
		ErrorMessage:  "",
		TurnCount:     2,
	}, state)
	require.Equal(t, state, s.Snapshot())
	require.True(t, state.CanChoose())

	require.Equal(t, []models.Turn{
		{Role: models.RoleUser, Content: prompt.BuildStartPrompt(testGenre, testMillis)},
		{Role: models.RoleModel, Content: caveRaw},
	}, s.Transcript())
}

func TestSessionSelectChoiceGrowsTranscript(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)
	startStory(t, s, generator)

	for i, choice := range []string{"Light a torch", "", "something the model never offered"} {
		before := s.Transcript()

		done, err := s.SelectChoice(context.Background(), choice)
		require.NoError(t, err)
		busy := s.Snapshot()
		require.True(t, busy.IsBusy)
		require.Empty(t, busy.Choices)
		require.Equal(t, story.ContinuingText, busy.NarrativeText)

		c := generator.next(t)
		require.Equal(t, before, c.turns, "request carries the history before the choice")
		require.Equal(t, prompt.BuildContinuationPrompt(choice), c.instruction)
		c.respond(cave)
		state := await(t, done)
		require.Equal(t, len(before)+2, state.TurnCount)

		after := s.Transcript()
		require.Len(t, after, len(before)+2, "choice %d", i)
		require.Equal(t, before, after[:len(before)], "existing turns are never modified")
		require.Equal(t, models.Turn{Role: models.RoleUser, Content: c.instruction}, after[len(before)])
		require.Equal(t, models.Turn{Role: models.RoleModel, Content: caveRaw}, after[len(before)+1])
	}

	turns := s.Transcript()
	for i, turn := range turns {
		want := models.RoleUser
		if i%2 == 1 {
			want = models.RoleModel
		}
		require.Equal(t, want, turn.Role, "turn %d", i)
	}
}

func TestSessionTranscriptIsACopy(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)
	startStory(t, s, generator)

	turns := s.Transcript()
	turns[0].Content = "tampered"
	require.NotEqual(t, "tampered", s.Transcript()[0].Content)

	state := s.Snapshot()
	state.Choices[0] = "tampered"
	require.Equal(t, "Light a torch", s.Snapshot().Choices[0])
}

func TestSessionEnding(t *testing.T) {
	tests := []struct {
		name    string
		segment models.Segment
	}{
		{name: "empty choices", segment: models.Segment{Text: "You find the treasure.", Choices: []string{}, IsEnding: true}},
		{name: "omitted choices", segment: models.Segment{Text: "You find the treasure.", Choices: nil, IsEnding: true}},
		{
			name:    "non-ending segment without choices",
			segment: models.Segment{Text: "You find the treasure.", Choices: []string{}, IsEnding: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator := newFakeGenerator()
			s := newSession(t, generator)
			startStory(t, s, generator)

			done, err := s.SelectChoice(context.Background(), "Light a torch")
			require.NoError(t, err)
			generator.next(t).respond(ai.Generation{Segment: tt.segment, Raw: `{"storySegment":"You find the treasure."}`})
			state := await(t, done)

			require.Equal(t, models.PhasePresenting, state.Phase)
			require.True(t, state.IsEnding)
			require.Empty(t, state.Choices)
			require.NotNil(t, state.Choices)
			require.False(t, state.CanChoose())

			before := s.Transcript()
			_, err = s.SelectChoice(context.Background(), "Light a torch")
			require.ErrorIs(t, err, story.ErrConcluded)
			generator.requireNoCall(t)
			require.Equal(t, state, s.Snapshot())
			require.Equal(t, before, s.Transcript())
		})
	}
}

func TestSessionFailure(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantMessage string
	}{
		{
			name:        "api error",
			err:         &ai.APIError{StatusCode: 429, Message: "quota exceeded"},
			wantMessage: "Failed to generate story: API error: 429 - quota exceeded. Please try again.",
		},
		{
			name:        "schema violation",
			err:         errors.Wrap(ai.ErrSchemaViolation, "unmarshal story segment"),
			wantMessage: "Failed to generate story: response did not conform to schema. Please try again.",
		},
		{
			name:        "malformed response",
			err:         errors.Wrap(ai.ErrMalformedResponse, "candidate text missing"),
			wantMessage: "Failed to generate story: unexpected API response structure. Please try again.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator := newFakeGenerator()
			s := newSession(t, generator)
			startStory(t, s, generator)
			before := s.Transcript()

			done, err := s.SelectChoice(context.Background(), "Turn back")
			require.NoError(t, err)
			generator.next(t).fail(tt.err)
			state := await(t, done)

			require.Equal(t, models.PhaseFailed, state.Phase)
			require.Equal(t, tt.wantMessage, state.ErrorMessage)
			require.Equal(t, story.FailureText, state.NarrativeText)
			require.True(t, state.IsEnding)
			require.False(t, state.IsBusy)
			require.Empty(t, state.Choices)
			require.Equal(t, before, s.Transcript(), "failed turns are not recorded")

			_, err = s.SelectChoice(context.Background(), "Turn back")
			require.ErrorIs(t, err, story.ErrConcluded)
		})
	}
}

func TestSessionStartNewStoryResets(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)

	// Fail the opening request.
	done, err := s.StartNewStory(context.Background())
	require.NoError(t, err)
	generator.next(t).fail(&ai.APIError{StatusCode: 500, Message: "boom"})
	failed := await(t, done)
	require.Equal(t, models.PhaseFailed, failed.Phase)

	// Recover from the failure.
	state := startStory(t, s, generator)
	require.Equal(t, models.PhasePresenting, state.Phase)
	require.Empty(t, state.ErrorMessage)
	done, err = s.SelectChoice(context.Background(), "Light a torch")
	require.NoError(t, err)
	generator.next(t).respond(cave)
	await(t, done)
	require.Len(t, s.Transcript(), 4)

	// Restart from a presented story.
	done, err = s.StartNewStory(context.Background())
	require.NoError(t, err)
	busy := s.Snapshot()
	require.Empty(t, s.Transcript())
	require.Empty(t, busy.Choices)
	require.Empty(t, busy.ErrorMessage)
	require.False(t, busy.IsEnding)
	require.NotEqual(t, state.StoryID, busy.StoryID)
	c := generator.next(t)
	require.Empty(t, c.turns)
	c.respond(cave)
	await(t, done)
	require.Len(t, s.Transcript(), 2)
}

func TestSessionRejectsChoiceWhileBusy(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)
	startStory(t, s, generator)

	done, err := s.SelectChoice(context.Background(), "Light a torch")
	require.NoError(t, err)
	pending := generator.next(t)

	busy := s.Snapshot()
	before := s.Transcript()
	_, err = s.SelectChoice(context.Background(), "Turn back")
	require.ErrorIs(t, err, story.ErrBusy)
	generator.requireNoCall(t)
	require.Equal(t, busy, s.Snapshot())
	require.Equal(t, before, s.Transcript())

	pending.respond(cave)
	state := await(t, done)
	require.Len(t, s.Transcript(), len(before)+2)
	require.Equal(t, prompt.BuildContinuationPrompt("Light a torch"), s.Transcript()[len(before)].Content)
	require.True(t, state.CanChoose())
}

func TestSessionStartNewStorySupersedesPendingRequest(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)

	first, err := s.StartNewStory(context.Background())
	require.NoError(t, err)
	stale := generator.next(t)

	second, err := s.StartNewStory(context.Background())
	require.NoError(t, err)
	fresh := generator.next(t)

	select {
	case <-stale.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("superseded request was not cancelled")
	}
	select {
	case _, ok := <-first:
		require.False(t, ok, "superseded request delivered a state")
	case <-time.After(time.Second):
		t.Fatal("superseded completion channel not closed")
	}
	require.True(t, s.Snapshot().IsBusy, "stale completion must not end the busy state")

	fresh.respond(cave)
	state := await(t, second)
	require.Equal(t, "You enter a cave.", state.NarrativeText)
	require.Len(t, s.Transcript(), 2)
}

func TestSessionDetachesRequestFromCallerContext(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)

	ctx, cancel := context.WithCancel(context.Background())
	done, err := s.StartNewStory(ctx)
	require.NoError(t, err)
	cancel()

	c := generator.next(t)
	require.NoError(t, c.ctx.Err())
	c.respond(cave)
	require.Equal(t, models.PhasePresenting, await(t, done).Phase)
}

func TestSessionTimeout(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator, story.WithTimeout(20*time.Millisecond))

	done, err := s.StartNewStory(context.Background())
	require.NoError(t, err)
	generator.next(t)

	state := await(t, done)
	require.Equal(t, models.PhaseFailed, state.Phase)
	require.Equal(t, "Failed to generate story: the request timed out. Please try again.", state.ErrorMessage)
}

func TestSessionNoGenres(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator, story.WithGenres(nil))

	_, err := s.StartNewStory(context.Background())
	require.ErrorIs(t, err, prompt.ErrNoGenres)
	generator.requireNoCall(t)
	require.Equal(t, models.PhaseIdle, s.Snapshot().Phase)
}

func TestSessionSubscribe(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)

	states, unsubscribe := s.Subscribe()
	t.Cleanup(unsubscribe)
	receive := func() models.State {
		t.Helper()
		select {
		case state, ok := <-states:
			require.True(t, ok)
			return state
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for state")
			return models.State{}
		}
	}

	require.Equal(t, models.PhaseIdle, receive().Phase)

	done, err := s.StartNewStory(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.PhaseBusy, receive().Phase)

	generator.next(t).respond(cave)
	resting := await(t, done)
	require.Equal(t, resting, receive())

	unsubscribe()
	select {
	case _, ok := <-states:
		require.False(t, ok, "subscription not closed")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestSessionClose(t *testing.T) {
	generator := newFakeGenerator()
	s := newSession(t, generator)
	states, _ := s.Subscribe()

	done, err := s.StartNewStory(context.Background())
	require.NoError(t, err)
	pending := generator.next(t)

	s.Close()
	select {
	case <-pending.ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("pending request was not cancelled")
	}
	select {
	case _, ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("completion channel not closed")
	}
	for range states { //nolint:revive // drain until closed.
	}

	_, err = s.StartNewStory(context.Background())
	require.ErrorIs(t, err, story.ErrClosed)
	_, err = s.SelectChoice(context.Background(), "Light a torch")
	require.ErrorIs(t, err, story.ErrClosed)
}
