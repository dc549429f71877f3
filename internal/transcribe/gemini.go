package transcribe

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini transcribes audio windows with a Gemini multimodal model. The WAV
// container is sent inline as a blob part alongside the instruction prompt.
type Gemini struct {
	client *genai.Client
	model  string
	prompt string
}

// NewGemini creates a Gemini transcription backend.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &Gemini{client: client, model: model, prompt: LivePrompt}, nil
}

// WithPrompt overrides the instruction prompt; used for batch transcription
// where the chaptered prompt replaces the live one.
func (g *Gemini) WithPrompt(prompt string) *Gemini {
	clone := *g
	clone.prompt = prompt
	return &clone
}

func (g *Gemini) Transcribe(ctx context.Context, wav []byte) (string, error) {
	return g.transcribeMIME(ctx, wav, "audio/wav")
}

// TranscribeFile transcribes an arbitrary uploaded recording with its own
// MIME type (mp3, m4a, ...). Same call, different container.
func (g *Gemini) TranscribeFile(ctx context.Context, data []byte, mimeType string) (string, error) {
	return g.transcribeMIME(ctx, data, mimeType)
}

func (g *Gemini) transcribeMIME(ctx context.Context, data []byte, mimeType string) (string, error) {
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: g.prompt},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		},
	}}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini transcription: %w", err)
	}

	return strings.TrimSpace(result.Text()), nil
}
