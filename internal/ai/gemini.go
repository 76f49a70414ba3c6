package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/myrjola/storyweaver/internal/config"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 4 << 20

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiSchema struct {
	Type             string                  `json:"type"`
	Properties       map[string]geminiSchema `json:"properties,omitempty"`
	Items            *geminiSchema           `json:"items,omitempty"`
	PropertyOrdering []string                `json:"propertyOrdering,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMimeType string       `json:"responseMimeType"`
	ResponseSchema   geminiSchema `json:"responseSchema"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

var geminiSegmentSchema = geminiSchema{
	Type: "OBJECT",
	Properties: map[string]geminiSchema{
		fieldStorySegment: {Type: "STRING"},
		fieldChoices:      {Type: "ARRAY", Items: &geminiSchema{Type: "STRING"}},
		fieldIsEnding:     {Type: "BOOLEAN"},
	},
	PropertyOrdering: []string{fieldStorySegment, fieldChoices, fieldIsEnding},
}

// GeminiClient talks to the native generateContent endpoint of the Gemini API.
type GeminiClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	apiKey     string
}

func NewGeminiClient(cfg config.Generation) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{}, //nolint:exhaustruct // requests are bounded by their context
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
	}
}

// endpoint returns the request URL. The API key travels as a query parameter, so the URL must never be logged.
func (c *GeminiClient) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))
}

func (c *GeminiClient) Generate(ctx context.Context, turns []models.Turn, instruction string) (Generation, error) {
	contents := make([]geminiContent, 0, len(turns)+1)
	for _, turn := range turns {
		contents = append(contents, geminiContent{Role: string(turn.Role), Parts: []geminiPart{{Text: turn.Content}}})
	}
	contents = append(contents, geminiContent{Role: string(models.RoleUser), Parts: []geminiPart{{Text: instruction}}})

	body, err := json.Marshal(geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   geminiSegmentSchema,
		},
	})
	if err != nil {
		return Generation{}, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return Generation{}, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The *url.Error carries the URL including the key, keep only the cause.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return Generation{}, errors.Wrap(err, "do request", slog.String("model", c.model))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// One byte over the limit tells a truncated body apart from one that fits exactly.
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return Generation{}, errors.Wrap(err, "read response body")
	}
	if len(respBody) > maxResponseBytes {
		return Generation{}, errors.Wrap(ErrMalformedResponse, "response too large",
			slog.Int("limit_bytes", maxResponseBytes), slog.Int("status", resp.StatusCode))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := gjson.GetBytes(respBody, "error.message").String()
		if message == "" {
			message = unknownErrorMessage
		}
		return Generation{}, &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if !gjson.ValidBytes(respBody) {
		return Generation{}, errors.Wrap(ErrMalformedResponse, "invalid envelope json")
	}
	text := gjson.GetBytes(respBody, "candidates.0.content.parts.0.text")
	if text.Type != gjson.String || text.Str == "" {
		return Generation{}, errors.Wrap(ErrMalformedResponse, "candidate text missing",
			slog.Int("candidates", int(gjson.GetBytes(respBody, "candidates.#").Int())))
	}

	segment, err := decodeSegment(text.Str)
	if err != nil {
		return Generation{}, err
	}
	return Generation{Segment: segment, Raw: text.Str}, nil
}
