package analyze

import (
	"strings"

	"github.com/meetscribe/meetscribe/internal/session"
)

// BatchPrompt asks for a chaptered transcription of a full recording. The
// response is parsed by ParseChapters, so the CHAPTER: line format matters.
const BatchPrompt = `Please transcribe this meeting audio with the following structure:

1. First, identify the main topics/chapters discussed in the meeting
2. For each chapter, provide:
   - Chapter title and time range (e.g., "Opening Remarks (00:00 - 03:00)")
   - Detailed transcription with timestamps, speakers, and content
3. Format each speaker's dialogue with proper timestamps
4. Use clear section breaks between chapters

Structure your response as:

CHAPTER: [Chapter Title] ([Start Time] - [End Time])
[Detailed transcription for this chapter with timestamps and speakers]

CHAPTER: [Next Chapter Title] ([Start Time] - [End Time])
[Detailed transcription for this chapter with timestamps and speakers]

Use speaker A, speaker B, etc. to identify speakers consistently throughout.`

// ParseChapters splits a chaptered transcript into sections. A transcript
// with no CHAPTER: markers becomes a single whole-meeting chapter; an empty
// or error-marked transcript yields nothing.
func ParseChapters(transcript string) []session.Chapter {
	if transcript == "" || strings.HasPrefix(transcript, "Error:") {
		return nil
	}

	var chapters []session.Chapter
	var current *session.Chapter
	var content []string

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(content, "\n"))
		chapters = append(chapters, *current)
	}

	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "CHAPTER:") {
			if line != "" && current != nil {
				content = append(content, line)
			}
			continue
		}

		flush()
		title, timeRange := splitChapterHeading(strings.TrimSpace(line[len("CHAPTER:"):]))
		current = &session.Chapter{Title: title, TimeRange: timeRange}
		content = nil
	}
	flush()

	if len(chapters) == 0 {
		return []session.Chapter{{
			Title:     "Full Meeting Transcript",
			TimeRange: "Complete Duration",
			Content:   strings.TrimSpace(transcript),
		}}
	}
	return chapters
}

// splitChapterHeading separates "Budget Review (00:00 - 03:00)" into title
// and time range. The last parenthesized group wins; a heading without one
// gets a placeholder range.
func splitChapterHeading(heading string) (title, timeRange string) {
	open := strings.LastIndex(heading, "(")
	if open < 0 || !strings.Contains(heading[open:], ")") {
		return heading, "Time not specified"
	}
	title = strings.TrimSpace(heading[:open])
	timeRange = strings.Trim(heading[open:], "()")
	return title, timeRange
}

// SearchChapters returns the chapters whose title or content contains the
// term, case-insensitively. An empty term matches every chapter.
func SearchChapters(chapters []session.Chapter, term string) []session.Chapter {
	if term == "" {
		return chapters
	}

	needle := strings.ToLower(term)
	matched := make([]session.Chapter, 0, len(chapters))
	for _, c := range chapters {
		if strings.Contains(strings.ToLower(c.Title), needle) ||
			strings.Contains(strings.ToLower(c.Content), needle) {
			matched = append(matched, c)
		}
	}
	return matched
}
