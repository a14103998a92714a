package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/tarsy-oss/tarsy/pkg/models"
)

// GeminiClient implements Client on the Google Gemini API. It is the
// reference provider adapter; deployments may swap in any Client.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature *float64
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, model string, temperature *float64) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing Gemini API key")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, model: model, temperature: temperature}, nil
}

// Complete implements Client.
func (c *GeminiClient) Complete(ctx context.Context, messages []models.ConversationMessage) (*Completion, error) {
	contents, cfg := convertConversation(messages)
	if c.temperature != nil {
		t := float32(*c.temperature)
		cfg.Temperature = &t
	}

	res, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := res.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}

	completion := &Completion{Text: text, Model: c.model}
	if usage := res.UsageMetadata; usage != nil {
		completion.InputTokens = int(usage.PromptTokenCount)
		completion.OutputTokens = int(usage.CandidatesTokenCount)
		completion.TotalTokens = int(usage.TotalTokenCount)
	}
	return completion, nil
}

// convertConversation maps conversation messages onto the genai content
// model: the system message becomes the system instruction, user/assistant
// turns become user/model contents.
func convertConversation(messages []models.ConversationMessage) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			cfg.SystemInstruction = genai.NewContentFromText(msg.Content, genai.RoleUser)
		case models.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, cfg
}
