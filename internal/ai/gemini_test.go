package ai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/myrjola/storyweaver/internal/ai"
	"github.com/myrjola/storyweaver/internal/config"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const caveSegment = `{"storySegment":"You enter a cave.","choices":["Light a torch","Turn back"],"isEnding":false}`

// geminiEnvelope wraps text the way the generateContent endpoint does.
func geminiEnvelope(t *testing.T, text string) string {
	t.Helper()
	envelope := map[string]any{
		"candidates": []any{
			map[string]any{
				"content": map[string]any{
					"role":  "model",
					"parts": []any{map[string]any{"text": text}},
				},
			},
		},
	}
	b, err := json.Marshal(envelope)
	require.NoError(t, err)
	return string(b)
}

func newGeminiClient(serverURL string) *ai.GeminiClient {
	return ai.NewGeminiClient(config.Generation{
		Backend: ai.BackendGemini,
		APIKey:  "test-key",
		Model:   "gemini-2.0-flash",
		BaseURL: serverURL,
		Timeout: time.Second,
	})
}

func TestGeminiClientRequest(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var err error
		body, err = io.ReadAll(r.Body)
		assert.NoError(t, err)
		_, _ = io.WriteString(w, geminiEnvelope(t, caveSegment))
	}))
	t.Cleanup(server.Close)

	turns := []models.Turn{
		{Role: models.RoleUser, Content: "Start a story."},
		{Role: models.RoleModel, Content: caveSegment},
	}
	_, err := newGeminiClient(server.URL).Generate(context.Background(), turns, "The user chose: \"Turn back\".")
	require.NoError(t, err)

	contents := gjson.GetBytes(body, "contents").Array()
	require.Len(t, contents, 3)
	require.Equal(t, "user", contents[0].Get("role").String())
	require.Equal(t, "model", contents[1].Get("role").String())
	require.Equal(t, caveSegment, contents[1].Get("parts.0.text").String())
	require.Equal(t, "user", contents[2].Get("role").String())
	require.Equal(t, "The user chose: \"Turn back\".", contents[2].Get("parts.0.text").String())

	require.Equal(t, "application/json", gjson.GetBytes(body, "generationConfig.responseMimeType").String())
	schema := gjson.GetBytes(body, "generationConfig.responseSchema")
	require.Equal(t, "OBJECT", schema.Get("type").String())
	require.Equal(t, "STRING", schema.Get("properties.storySegment.type").String())
	require.Equal(t, "ARRAY", schema.Get("properties.choices.type").String())
	require.Equal(t, "STRING", schema.Get("properties.choices.items.type").String())
	require.Equal(t, "BOOLEAN", schema.Get("properties.isEnding.type").String())
	require.Equal(t, `["storySegment","choices","isEnding"]`, schema.Get("propertyOrdering").Raw)

	// The caller's turns are not modified.
	require.Len(t, turns, 2)
}

func TestGeminiClientResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    func(t *testing.T) string
		want    models.Segment
		wantErr func(t *testing.T, err error)
	}{
		{
			name:   "well-formed segment",
			status: http.StatusOK,
			body:   func(t *testing.T) string { return geminiEnvelope(t, caveSegment) },
			want: models.Segment{
				Text:     "You enter a cave.",
				Choices:  []string{"Light a torch", "Turn back"},
				IsEnding: false,
			},
		},
		{
			name:   "absent ending flag defaults to false",
			status: http.StatusOK,
			body: func(t *testing.T) string {
				return geminiEnvelope(t, `{"storySegment":"A door.","choices":["Open it"]}`)
			},
			want: models.Segment{Text: "A door.", Choices: []string{"Open it"}, IsEnding: false},
		},
		{
			name:   "absent choices end the story",
			status: http.StatusOK,
			body:   func(t *testing.T) string { return geminiEnvelope(t, `{"storySegment":"The end."}`) },
			want:   models.Segment{Text: "The end.", Choices: []string{}, IsEnding: true},
		},
		{
			name:   "non-ending segment without choices",
			status: http.StatusOK,
			body: func(t *testing.T) string {
				return geminiEnvelope(t, `{"storySegment":"Silence.","choices":[],"isEnding":false}`)
			},
			want: models.Segment{Text: "Silence.", Choices: []string{}, IsEnding: true},
		},
		{
			name:   "ending segment",
			status: http.StatusOK,
			body: func(t *testing.T) string {
				return geminiEnvelope(t, `{"storySegment":"You find the treasure.","choices":[],"isEnding":true}`)
			},
			want: models.Segment{Text: "You find the treasure.", Choices: []string{}, IsEnding: true},
		},
		{
			name:   "choices are capped at three",
			status: http.StatusOK,
			body: func(t *testing.T) string {
				return geminiEnvelope(t, `{"storySegment":"Crossroads.","choices":["a","b","c","d"],"isEnding":false}`)
			},
			want: models.Segment{Text: "Crossroads.", Choices: []string{"a", "b", "c"}, IsEnding: false},
		},
		{
			name:   "server error message",
			status: http.StatusTooManyRequests,
			body:   func(_ *testing.T) string { return `{"error":{"code":429,"message":"quota exceeded"}}` },
			wantErr: func(t *testing.T, err error) {
				var apiErr *ai.APIError
				require.ErrorAs(t, err, &apiErr)
				require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
				require.Equal(t, "quota exceeded", apiErr.Message)
				require.Contains(t, ai.DisplayMessage(err), "quota exceeded")
			},
		},
		{
			name:   "server error without message",
			status: http.StatusBadGateway,
			body:   func(_ *testing.T) string { return `<html>bad gateway</html>` },
			wantErr: func(t *testing.T, err error) {
				var apiErr *ai.APIError
				require.ErrorAs(t, err, &apiErr)
				require.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
				require.Equal(t, "Unknown error", apiErr.Message)
			},
		},
		{
			name:   "no candidates",
			status: http.StatusOK,
			body:   func(_ *testing.T) string { return `{"candidates":[]}` },
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ai.ErrMalformedResponse)
			},
		},
		{
			name:   "empty candidate text",
			status: http.StatusOK,
			body:   func(t *testing.T) string { return geminiEnvelope(t, "") },
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ai.ErrMalformedResponse)
			},
		},
		{
			name:   "envelope is not json",
			status: http.StatusOK,
			body:   func(_ *testing.T) string { return `not json` },
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ai.ErrMalformedResponse)
			},
		},
		{
			name:   "payload is not json",
			status: http.StatusOK,
			body:   func(t *testing.T) string { return geminiEnvelope(t, "Once upon a time") },
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ai.ErrSchemaViolation)
				require.Equal(t, "response did not conform to schema", ai.DisplayMessage(err))
			},
		},
		{
			name:   "payload without story segment",
			status: http.StatusOK,
			body:   func(t *testing.T) string { return geminiEnvelope(t, `{"choices":["a"]}`) },
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ai.ErrSchemaViolation)
			},
		},
		{
			name:   "choices of the wrong type",
			status: http.StatusOK,
			body: func(t *testing.T) string {
				return geminiEnvelope(t, `{"storySegment":"x","choices":"go left","isEnding":false}`)
			},
			wantErr: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ai.ErrSchemaViolation)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := tt.body(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, body)
			}))
			t.Cleanup(server.Close)

			generation, err := newGeminiClient(server.URL).Generate(context.Background(), nil, "Start a story.")
			if tt.wantErr != nil {
				require.Error(t, err)
				tt.wantErr(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, generation.Segment)
			require.NotEmpty(t, generation.Raw)
		})
	}
}

func TestGeminiClientRawIsVerbatim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, geminiEnvelope(t, caveSegment))
	}))
	t.Cleanup(server.Close)

	generation, err := newGeminiClient(server.URL).Generate(context.Background(), nil, "Start a story.")
	require.NoError(t, err)
	require.Equal(t, caveSegment, generation.Raw)
}

func TestGeminiClientResponseTooLarge(t *testing.T) {
	// A valid envelope padded with whitespace past the 4 MiB read limit.
	body := geminiEnvelope(t, caveSegment) + strings.Repeat(" ", 4<<20)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	_, err := newGeminiClient(server.URL).Generate(context.Background(), nil, "Start a story.")
	require.ErrorIs(t, err, ai.ErrMalformedResponse)
	require.Contains(t, err.Error(), "response too large")
}

func TestGeminiClientTimeoutDoesNotLeakKey(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newGeminiClient(server.URL).Generate(ctx, nil, "Start a story.")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotContains(t, err.Error(), "test-key")
	require.Equal(t, "the request timed out", ai.DisplayMessage(err))
}
