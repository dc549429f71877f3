package transcribe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Backend converts one WAV-wrapped audio window into plain text. An empty
// string means the backend heard no speech. Errors are opaque: the caller
// logs, drops the window, and moves on.
type Backend interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Fragment is one timestamped piece of accepted transcript text produced
// from one audio window.
type Fragment struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// FormatLine renders the fragment as a transcript line with wall-clock
// HH:MM:SS resolution.
func (f Fragment) FormatLine() string {
	return fmt.Sprintf("[%s] %s", f.Timestamp.Format("15:04:05"), f.Text)
}

// LivePrompt instructs the model to return spoken content only. Windows are
// time-boxed, not silence-boxed, so silent windows reach the model and the
// model (plus IsValidSpeech) is what keeps noise out of the transcript.
const LivePrompt = `Please transcribe this audio accurately. IMPORTANT RULES:

1. ONLY transcribe clear spoken words and sentences
2. DO NOT transcribe background noise, breathing sounds, coughing, or ambient noise
3. DO NOT transcribe if there is only silence or no clear speech
4. DO NOT transcribe unclear mumbling or inaudible sounds
5. Only return actual spoken text, no additional commentary or descriptions
6. If there is no clear speech to transcribe, return nothing (empty response)
7. Focus on meaningful spoken content only

Transcribe the audio:`

var noiseTokens = []string{
	"[noise]", "[sound]", "[breathing]", "[cough]", "[silence]",
	"[music]", "[background]", "[static]", "[wind]", "[click]",
	"*noise*", "*sound*", "*breathing*", "*silence*",
	"background noise", "ambient sound", "no speech",
	"inaudible", "unclear", "muffled",
}

// IsValidSpeech reports whether returned text looks like genuine spoken
// content. Rejects empty text, known noise markers (exact or whole-word),
// lone vowels, and text that is less than 30% alphabetic once it is longer
// than 3 characters.
func IsValidSpeech(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, token := range noiseTokens {
		if lower == token {
			return false
		}
		if strings.Contains(" "+lower+" ", " "+token+" ") {
			return false
		}
	}

	if len(lower) == 1 && strings.ContainsAny(lower, "aeiou") {
		return false
	}

	if len(trimmed) > 3 {
		letters := 0
		for _, r := range trimmed {
			if isLetter(r) {
				letters++
			}
		}
		if float64(letters) < float64(len([]rune(trimmed)))*0.3 {
			return false
		}
	}

	return true
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= 0x00C0 && r <= 0x024F) // latin letters with diacritics
}
