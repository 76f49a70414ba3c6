package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/myrjola/storyweaver/internal/config"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/models"
)

// Backend names accepted by New.
const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// Field names of the structured story segment, in the order the model must emit them.
const (
	fieldStorySegment = "storySegment"
	fieldChoices      = "choices"
	fieldIsEnding     = "isEnding"
)

const unknownErrorMessage = "Unknown error"

var (
	// ErrMalformedResponse means the response envelope did not contain the expected candidate content.
	ErrMalformedResponse = errors.NewSentinel("unexpected API response structure")
	// ErrSchemaViolation means the candidate content was present but did not decode as a story segment.
	ErrSchemaViolation = errors.NewSentinel("response did not conform to schema")
	ErrUnknownBackend  = errors.NewSentinel("unknown generation backend")
)

// APIError is returned when the generative API answers with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
}

// Generation is the result of a successful request.
type Generation struct {
	Segment models.Segment
	// Raw is the structured reply exactly as the model returned it. It becomes the model turn of the transcript.
	Raw string
}

// Generator requests the next story segment.
//
// turns is the conversation so far. The instruction is sent as a final user turn appended to a copy of
// turns; recording it in the durable transcript is the caller's responsibility.
type Generator interface {
	Generate(ctx context.Context, turns []models.Turn, instruction string) (Generation, error)
}

// New creates the Generator selected by cfg.Backend. Requests are instrumented when metrics is not nil.
func New(cfg config.Generation, metrics *Metrics) (Generator, error) {
	var g Generator
	switch cfg.Backend {
	case BackendGemini:
		g = NewGeminiClient(cfg)
	case BackendOpenAI:
		g = NewOpenAIClient(cfg)
	default:
		return nil, errors.Wrap(ErrUnknownBackend, "select backend", slog.String("backend", cfg.Backend))
	}
	if metrics != nil {
		g = Instrument(g, cfg.Backend, metrics)
	}
	return g, nil
}

type segmentPayload struct {
	StorySegment *string  `json:"storySegment"`
	Choices      []string `json:"choices"`
	IsEnding     *bool    `json:"isEnding"`
}

// decodeSegment parses the structured reply. Absent choices default to none and an absent ending flag to
// false before the segment is normalized with [models.Segment.Normalized].
func decodeSegment(raw string) (models.Segment, error) {
	var payload segmentPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return models.Segment{}, errors.Wrap(ErrSchemaViolation, "unmarshal story segment",
			slog.String("cause", err.Error()))
	}
	if payload.StorySegment == nil {
		return models.Segment{}, errors.Wrap(ErrSchemaViolation, "story segment missing",
			slog.String("field", fieldStorySegment))
	}

	segment := models.Segment{
		Text:     *payload.StorySegment,
		Choices:  payload.Choices,
		IsEnding: payload.IsEnding != nil && *payload.IsEnding,
	}
	return segment.Normalized(), nil
}

// DisplayMessage returns the text shown to the reader when generation fails with err.
func DisplayMessage(err error) string {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, ErrMalformedResponse):
		return ErrMalformedResponse.Error()
	case errors.Is(err, ErrSchemaViolation):
		return ErrSchemaViolation.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	default:
		return err.Error()
	}
}
