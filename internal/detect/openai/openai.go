package openai

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"

	"github.com/iamwavecut/langwarden/internal/detect"
)

type Backend struct {
	client *openai.Client
	model  string
	logger *log.Entry
}

const DefaultModel = "gpt-4o-mini"

const detectionPrompt = "You are a language identification system. " +
	"Respond with the two-letter ISO 639-1 code of the dominant language of the user's message, " +
	"or with \"und\" if the language cannot be determined."

func New(apiKey, model, baseURL string, logger *log.Entry) *Backend {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Backend{
		client: openai.NewClientWithConfig(config),
		model:  model,
		logger: logger,
	}
}

func (b *Backend) Detect(ctx context.Context, text string) (detect.Code, error) {
	if strings.TrimSpace(text) == "" {
		return detect.None, nil
	}

	resp, err := b.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       b.model,
			Temperature: 0.02,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: detectionPrompt,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: text,
				},
			},
		},
	)
	if err != nil {
		return detect.None, err
	}
	if len(resp.Choices) == 0 {
		return detect.None, nil
	}

	code := strings.ToLower(strings.TrimSpace(resp.Choices[0].Message.Content))
	if len(code) != 2 || code == "un" {
		return detect.None, nil
	}
	return detect.Code(code), nil
}
