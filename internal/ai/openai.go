package ai

import (
	"context"

	"github.com/myrjola/storyweaver/internal/config"
	"github.com/myrjola/storyweaver/internal/errors"
	"github.com/myrjola/storyweaver/internal/models"
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// MaxTokens bounds a single story segment.
const MaxTokens = 4096

var openAISegmentSchema = jsonschema.Definition{ //nolint:exhaustruct // this is better for readability
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		fieldStorySegment: {Type: jsonschema.String},
		fieldChoices:      {Type: jsonschema.Array, Items: &jsonschema.Definition{Type: jsonschema.String}},
		fieldIsEnding:     {Type: jsonschema.Boolean},
	},
	Required:             []string{fieldStorySegment, fieldChoices, fieldIsEnding},
	AdditionalProperties: false,
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint, including the compatibility
// endpoint of the Gemini API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(cfg config.Generation) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, turns []models.Turn, instruction string) (Generation, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	for _, turn := range turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == models.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{ //nolint:exhaustruct // this is better for readability
			Role:    role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{ //nolint:exhaustruct // this is better for readability
		Role:    openai.ChatMessageRoleUser,
		Content: instruction,
	})

	completion, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{ //nolint:exhaustruct // this is better for readability
			Model:     c.model,
			MaxTokens: MaxTokens,
			Messages:  messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{ //nolint:exhaustruct // optional description
					Name:   "story_segment",
					Schema: &openAISegmentSchema,
					Strict: true,
				},
			},
		},
	)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			message := apiErr.Message
			if message == "" {
				message = unknownErrorMessage
			}
			return Generation{}, &APIError{StatusCode: apiErr.HTTPStatusCode, Message: message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return Generation{}, &APIError{StatusCode: reqErr.HTTPStatusCode, Message: unknownErrorMessage}
		}
		return Generation{}, errors.Wrap(err, "create chat completion")
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return Generation{}, errors.Wrap(ErrMalformedResponse, "completion content missing")
	}
	raw := completion.Choices[0].Message.Content

	segment, err := decodeSegment(raw)
	if err != nil {
		return Generation{}, err
	}
	return Generation{Segment: segment, Raw: raw}, nil
}
