package models

import "slices"

// MaxChoices is the upper bound of choices offered for a single segment.
const MaxChoices = 3

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of the conversation sent to the generative API.
//
// Content of a user turn is the instruction, content of a model turn is the raw structured reply.
type Turn struct {
	Role    Role
	Content string
}

// Transcript is the ordered, append-only history of turns forming the API call context.
//
// The zero value is an empty transcript. Append returns a new Transcript and never mutates
// the receiver's backing array, so a Transcript handed out to a reader stays stable.
type Transcript struct {
	turns []Turn
}

// Append returns a transcript with turns added to the end.
func (t Transcript) Append(turns ...Turn) Transcript {
	next := make([]Turn, 0, len(t.turns)+len(turns))
	next = append(next, t.turns...)
	next = append(next, turns...)
	return Transcript{turns: next}
}

// Turns returns a copy of the turns in insertion order.
func (t Transcript) Turns() []Turn {
	return slices.Clone(t.turns)
}

func (t Transcript) Len() int {
	return len(t.turns)
}

// Segment is a decoded narrative unit returned by the generative API.
type Segment struct {
	Text     string
	Choices  []string
	IsEnding bool
}

// Normalized caps the choices at MaxChoices and marks a segment without choices as an ending, so that every
// presented segment either offers a choice or concludes the story.
func (s Segment) Normalized() Segment {
	s.Choices = slices.Clone(s.Choices)
	if s.Choices == nil {
		s.Choices = []string{}
	}
	if len(s.Choices) > MaxChoices {
		s.Choices = s.Choices[:MaxChoices]
	}
	if len(s.Choices) == 0 {
		s.IsEnding = true
	}
	return s
}

// Phase is the state of the story session state machine.
type Phase string

const (
	// PhaseIdle is the state before the first story is launched.
	PhaseIdle Phase = "idle"
	// PhaseBusy means a generation request is outstanding.
	PhaseBusy Phase = "busy"
	// PhasePresenting means a segment is shown. IsEnding tells whether choices are pending.
	PhasePresenting Phase = "presenting"
	// PhaseFailed means the last generation failed and only a new story can recover.
	PhaseFailed Phase = "failed"
)

// State is an immutable snapshot of the story session handed to the presentation layer.
type State struct {
	Phase         Phase    `json:"phase"`
	StoryID       string   `json:"storyId,omitempty"`
	Genre         string   `json:"genre,omitempty"`
	NarrativeText string   `json:"narrativeText"`
	Choices       []string `json:"choices"`
	IsEnding      bool     `json:"isEnding"`
	IsBusy        bool     `json:"isBusy"`
	ErrorMessage  string   `json:"errorMessage,omitempty"`
	// TurnCount is the length of the transcript at the time of the snapshot.
	TurnCount int `json:"turnCount"`
}

// Clone returns a deep copy so that the snapshot can be shared across goroutines.
func (s State) Clone() State {
	s.Choices = slices.Clone(s.Choices)
	if s.Choices == nil {
		s.Choices = []string{}
	}
	return s
}

// CanChoose reports whether a choice can be selected in this state.
func (s State) CanChoose() bool {
	return s.Phase == PhasePresenting && !s.IsEnding && !s.IsBusy && len(s.Choices) > 0
}
