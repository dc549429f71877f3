// Package analyze turns whole recordings into meeting artifacts: a chaptered
// transcript, takeaways, summary, notes, and a grounded chat over the result.
package analyze

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/meetscribe/meetscribe/internal/llm"
	"github.com/meetscribe/meetscribe/internal/session"
)

const takeawaysPrompt = `Based on the following meeting transcript, please extract the key meeting takeaways or action items.
Present them as a clear, concise bulleted list.

Transcript:
%s

Key Takeaways:`

const summaryPrompt = `Please provide a concise summary of the following meeting transcript.
Capture the main topics discussed and any important decisions made.

Transcript:
%s

Summary:`

const notesPrompt = `From the following meeting transcript, create detailed meeting notes.
Include discussion points, decisions, and any assigned tasks with responsible parties if mentioned.
Structure the notes logically, perhaps by topic or speaker if discernible.

Transcript:
%s

Detailed Meeting Notes:`

const chatPrompt = `You are a helpful assistant answering questions about a meeting.
Use the provided meeting transcript to answer the user's question.
If the transcript doesn't contain the answer, say so.

Meeting Transcript:
%s`

// FileTranscriber transcribes a complete uploaded recording in one call.
type FileTranscriber interface {
	TranscribeFile(ctx context.Context, data []byte, mimeType string) (string, error)
}

// ClientFactory builds the chat-completion client used for analysis and chat.
type ClientFactory func(provider, model string) (llm.Client, error)

// ChatEntry is one turn of a meeting-chat conversation.
type ChatEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type conversation struct {
	transcript string
	history    []ChatEntry
}

// Analyzer produces the batch-analysis artifacts. It carries the chat
// conversation registry, keyed by session id, so follow-up questions keep
// their history.
type Analyzer struct {
	transcriber FileTranscriber
	fallback    FileTranscriber
	factory     ClientFactory
	model       string
	chatModel   string
	sleep       func(time.Duration)

	mu            sync.Mutex
	conversations map[string]*conversation
}

// Options configures an Analyzer. Transcriber and Factory are required;
// Fallback is optional and tried once when the primary transcriber fails.
type Options struct {
	Transcriber FileTranscriber
	Fallback    FileTranscriber
	Factory     ClientFactory
	Model       string // provider/model for analysis artifacts
	ChatModel   string // provider/model for chat; defaults to Model
}

func New(opts Options) *Analyzer {
	chatModel := opts.ChatModel
	if chatModel == "" {
		chatModel = opts.Model
	}
	return &Analyzer{
		transcriber:   opts.Transcriber,
		fallback:      opts.Fallback,
		factory:       opts.Factory,
		model:         opts.Model,
		chatModel:     chatModel,
		sleep:         time.Sleep,
		conversations: make(map[string]*conversation),
	}
}

// TranscribeRecording transcribes an uploaded recording into a chaptered
// transcript. A primary failure is retried once on the fallback transcriber
// before giving up.
func (a *Analyzer) TranscribeRecording(ctx context.Context, data []byte, mimeType string) (string, error) {
	transcript, err := a.transcriber.TranscribeFile(ctx, data, mimeType)
	if err == nil && transcript != "" {
		return transcript, nil
	}

	if a.fallback == nil {
		if err != nil {
			return "", fmt.Errorf("transcribe recording: %w", err)
		}
		return "", fmt.Errorf("transcribe recording: empty response")
	}

	retryTranscript, retryErr := a.fallback.TranscribeFile(ctx, data, mimeType)
	if retryErr != nil {
		if err != nil {
			return "", fmt.Errorf("transcribe recording failed on both attempts: %v; retry: %w", err, retryErr)
		}
		return "", fmt.Errorf("transcribe recording retry: %w", retryErr)
	}
	if retryTranscript == "" {
		return "", fmt.Errorf("transcribe recording: empty response after retry")
	}
	return retryTranscript, nil
}

// Analyze derives all meeting artifacts from a transcript.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (*session.MeetingAnalysis, error) {
	takeaways, err := a.complete(ctx, a.model, nil, fmt.Sprintf(takeawaysPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("generate takeaways: %w", err)
	}
	summary, err := a.complete(ctx, a.model, nil, fmt.Sprintf(summaryPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	notes, err := a.complete(ctx, a.model, nil, fmt.Sprintf(notesPrompt, transcript))
	if err != nil {
		return nil, fmt.Errorf("generate notes: %w", err)
	}

	return &session.MeetingAnalysis{
		Takeaways: takeaways,
		Summary:   summary,
		Notes:     notes,
		Chapters:  ParseChapters(transcript),
	}, nil
}

// Register opens a chat conversation over a transcript. Re-registering the
// same id replaces the transcript and clears the history.
func (a *Analyzer) Register(sessionID, transcript string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversations[sessionID] = &conversation{transcript: transcript}
}

// Registered reports whether a conversation exists for the session.
func (a *Analyzer) Registered(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.conversations[sessionID]
	return ok
}

// Chat answers a question about a registered meeting, grounded in the
// transcript, with the prior turns of the conversation as context.
func (a *Analyzer) Chat(ctx context.Context, sessionID, question string) (string, error) {
	a.mu.Lock()
	conv, ok := a.conversations[sessionID]
	if !ok {
		a.mu.Unlock()
		return "", fmt.Errorf("no conversation for session %s", sessionID)
	}
	transcript := conv.transcript
	history := append([]ChatEntry(nil), conv.history...)
	a.mu.Unlock()

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    llm.RoleSystem,
		Content: fmt.Sprintf(chatPrompt, transcript),
	})
	for _, entry := range history {
		messages = append(messages, llm.Message{Role: entry.Role, Content: entry.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	answer, err := a.completeMessages(ctx, a.chatModel, messages)
	if err != nil {
		return "", fmt.Errorf("chat: %w", err)
	}

	a.mu.Lock()
	if conv, ok := a.conversations[sessionID]; ok {
		conv.history = append(conv.history,
			ChatEntry{Role: llm.RoleUser, Content: question},
			ChatEntry{Role: llm.RoleAssistant, Content: answer},
		)
	}
	a.mu.Unlock()

	return answer, nil
}

// History returns the conversation so far, oldest first.
func (a *Analyzer) History(sessionID string) ([]ChatEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	conv, ok := a.conversations[sessionID]
	if !ok {
		return nil, false
	}
	return append([]ChatEntry(nil), conv.history...), true
}

// Search returns the registered meeting's chapters matching the term, with
// the total count.
func (a *Analyzer) Search(sessionID, term string) ([]session.Chapter, bool) {
	a.mu.Lock()
	conv, ok := a.conversations[sessionID]
	a.mu.Unlock()
	if !ok {
		return nil, false
	}
	return SearchChapters(ParseChapters(conv.transcript), term), true
}

func (a *Analyzer) complete(ctx context.Context, model string, history []llm.Message, prompt string) (string, error) {
	messages := append(history, llm.Message{Role: llm.RoleUser, Content: prompt})
	return a.completeMessages(ctx, model, messages)
}

// completeMessages runs one chat completion with bounded retries.
func (a *Analyzer) completeMessages(ctx context.Context, model string, messages []llm.Message) (string, error) {
	provider, name, err := llm.ParseModel(model)
	if err != nil {
		return "", err
	}
	client, err := a.factory(provider, name)
	if err != nil {
		return "", fmt.Errorf("create llm client: %w", err)
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second}
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return strings.TrimSpace(result), nil
		}
		lastErr = err
		if attempt < len(backoff) {
			a.sleep(backoff[attempt])
		}
	}
	return "", fmt.Errorf("completion failed after retries: %w", lastErr)
}
