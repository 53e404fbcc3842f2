package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/iamwavecut/langwarden/internal/detect"
)

type Backend struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *log.Entry
}

const DefaultModel = "gemini-2.5-flash-lite"

const detectionPrompt = "You are a language identification system. " +
	"Respond with the two-letter ISO 639-1 code of the dominant language of the message, " +
	"or with \"und\" if the language cannot be determined."

func New(ctx context.Context, apiKey, modelName string, logger *log.Entry) (*Backend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.02)
	model.SetMaxOutputTokens(8)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(detectionPrompt)},
	}
	return &Backend{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

func (b *Backend) Detect(ctx context.Context, text string) (detect.Code, error) {
	if strings.TrimSpace(text) == "" {
		return detect.None, nil
	}

	resp, err := b.model.GenerateContent(ctx, genai.Text(text))
	if err != nil {
		return detect.None, err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return detect.None, nil
	}

	response := ""
	for _, part := range resp.Candidates[0].Content.Parts {
		response += fmt.Sprintf("%v", part)
	}

	code := strings.ToLower(strings.TrimSpace(response))
	if len(code) != 2 || code == "un" {
		return detect.None, nil
	}
	return detect.Code(code), nil
}
