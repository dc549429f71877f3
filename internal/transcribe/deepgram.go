package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Deepgram transcribes audio windows with Deepgram's prerecorded REST API.
// Unlike the Gemini backend it takes no instruction prompt; noise filtering
// relies entirely on IsValidSpeech.
type Deepgram struct {
	client *prerecorded.Client
	model  string
}

// NewDeepgram creates a Deepgram transcription backend.
func NewDeepgram(apiKey, model string) *Deepgram {
	if strings.TrimSpace(model) == "" {
		model = "nova-2"
	}

	rest := listen.NewREST(apiKey, &interfaces.ClientOptions{})
	return &Deepgram{client: prerecorded.New(rest), model: model}
}

func (d *Deepgram) Transcribe(ctx context.Context, wav []byte) (string, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		SmartFormat: true,
		Punctuate:   true,
	}

	res, err := d.client.FromStream(ctx, bytes.NewReader(wav), options)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}

	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(res.Results.Channels[0].Alternatives[0].Transcript), nil
}
