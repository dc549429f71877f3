package audio

import (
	"sync"
	"time"
)

// WindowBuffer accumulates raw PCM bytes for one session and slices them
// into fixed-size windows ready for transcription. It also keeps the
// session's full recording so a stop or disconnect can snapshot everything
// heard so far. Both accumulators share one lock: the ingest path appends
// while the session worker drains, and a window must never be taken while a
// chunk is mid-append.
type WindowBuffer struct {
	mu         sync.Mutex
	window     []byte
	recording  []byte
	maxBytes   int
	truncated  bool
	lastAppend time.Time
}

// NewWindowBuffer returns an empty buffer. maxRecordingBytes caps the full
// recording; 0 means unlimited. The window accumulator is never capped — it
// is drained every few seconds by the worker.
func NewWindowBuffer(maxRecordingBytes int) *WindowBuffer {
	return &WindowBuffer{maxBytes: maxRecordingBytes}
}

// Append adds a chunk to both the current window accumulator and the full
// recording. Once the recording cap is reached, windows keep flowing but the
// recording stops growing and the buffer is marked truncated.
func (b *WindowBuffer) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.window = append(b.window, chunk...)
	b.lastAppend = time.Now()

	if b.maxBytes > 0 && len(b.recording)+len(chunk) > b.maxBytes {
		remaining := b.maxBytes - len(b.recording)
		if remaining > 0 {
			b.recording = append(b.recording, chunk[:remaining]...)
		}
		b.truncated = true
		return
	}
	b.recording = append(b.recording, chunk...)
}

// TakeWindow returns and clears the window accumulator once it holds at
// least minBytes, or nil if the threshold has not been reached.
func (b *WindowBuffer) TakeWindow(minBytes int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.window) < minBytes {
		return nil
	}
	out := b.window
	b.window = nil
	return out
}

// FlushRemainder drains whatever is buffered below the window threshold.
// Used on an idle timeout and on session stop so trailing speech is not lost.
// Returns nil if nothing is buffered.
func (b *WindowBuffer) FlushRemainder() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.window) == 0 {
		return nil
	}
	out := b.window
	b.window = nil
	return out
}

// Pending returns the number of bytes waiting in the window accumulator.
func (b *WindowBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.window)
}

// Recording returns a copy of the full recording so far.
func (b *WindowBuffer) Recording() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.recording))
	copy(out, b.recording)
	return out
}

// RecordingSize returns the recording length without copying.
func (b *WindowBuffer) RecordingSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.recording)
}

// Truncated reports whether the recording hit its cap and stopped growing.
func (b *WindowBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// IdleSince reports whether no chunk has arrived within d. A buffer that has
// never seen a chunk is not idle.
func (b *WindowBuffer) IdleSince(d time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastAppend.IsZero() {
		return false
	}
	return time.Since(b.lastAppend) >= d
}
