package models_test

import (
	"testing"

	"github.com/myrjola/storyweaver/internal/models"
	"github.com/stretchr/testify/require"
)

func TestTranscriptAppendDoesNotMutate(t *testing.T) {
	var empty models.Transcript
	first := empty.Append(models.Turn{Role: models.RoleUser, Content: "start"})
	second := first.Append(models.Turn{Role: models.RoleModel, Content: "{}"})

	require.Equal(t, 0, empty.Len())
	require.Equal(t, 1, first.Len())
	require.Equal(t, 2, second.Len())

	// Branching from the same transcript must not overwrite the sibling.
	branch := first.Append(models.Turn{Role: models.RoleModel, Content: "other"})
	require.Equal(t, "{}", second.Turns()[1].Content)
	require.Equal(t, "other", branch.Turns()[1].Content)
}

func TestTranscriptTurnsReturnsCopy(t *testing.T) {
	transcript := models.Transcript{}.Append(models.Turn{Role: models.RoleUser, Content: "start"})
	turns := transcript.Turns()
	turns[0].Content = "changed"
	require.Equal(t, "start", transcript.Turns()[0].Content)
}

func TestStateClone(t *testing.T) {
	state := models.State{Choices: []string{"a", "b"}}
	clone := state.Clone()
	clone.Choices[0] = "changed"
	require.Equal(t, "a", state.Choices[0])

	require.NotNil(t, models.State{}.Clone().Choices)
}

func TestStateCanChoose(t *testing.T) {
	tests := []struct {
		name  string
		state models.State
		want  bool
	}{
		{name: "idle", state: models.State{Phase: models.PhaseIdle}, want: false},
		{name: "busy", state: models.State{Phase: models.PhaseBusy, IsBusy: true}, want: false},
		{
			name:  "presenting",
			state: models.State{Phase: models.PhasePresenting, Choices: []string{"Light a torch"}},
			want:  true,
		},
		{name: "presenting without choices", state: models.State{Phase: models.PhasePresenting, Choices: []string{}}, want: false},
		{name: "ending", state: models.State{Phase: models.PhasePresenting, IsEnding: true}, want: false},
		{name: "failed", state: models.State{Phase: models.PhaseFailed, IsEnding: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.state.CanChoose())
		})
	}
}

func TestSegmentNormalized(t *testing.T) {
	tests := []struct {
		name    string
		segment models.Segment
		want    models.Segment
	}{
		{
			name:    "choices kept",
			segment: models.Segment{Text: "A door.", Choices: []string{"Open it", "Knock"}, IsEnding: false},
			want:    models.Segment{Text: "A door.", Choices: []string{"Open it", "Knock"}, IsEnding: false},
		},
		{
			name:    "choices capped",
			segment: models.Segment{Text: "Crossroads.", Choices: []string{"a", "b", "c", "d"}, IsEnding: false},
			want:    models.Segment{Text: "Crossroads.", Choices: []string{"a", "b", "c"}, IsEnding: false},
		},
		{
			name:    "non-ending segment without choices",
			segment: models.Segment{Text: "Silence.", Choices: []string{}, IsEnding: false},
			want:    models.Segment{Text: "Silence.", Choices: []string{}, IsEnding: true},
		},
		{
			name:    "nil choices",
			segment: models.Segment{Text: "The end.", Choices: nil, IsEnding: true},
			want:    models.Segment{Text: "The end.", Choices: []string{}, IsEnding: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.segment.Normalized())
		})
	}
}
