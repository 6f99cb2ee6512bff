package retrieval

import (
	"fmt"
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
)

// Voice responses aim for 300-400 characters; the hard cap is applied
// at a sentence boundary when one exists.
const speechHardCap = 400

// SpeechText renders a composed response as a voice-friendly script:
// numbered markers become "Step N," phrases and the whole thing is
// capped at sentence boundaries so text-to-speech does not run long.
func SpeechText(resp domain.ComposedResponse) string {
	var b strings.Builder
	b.WriteString(resp.TaskTitle)
	b.WriteString(". ")

	for _, w := range resp.SafetyWarnings {
		if w.Severity == domain.SeverityCritical {
			b.WriteString(ensureSentence(w.Text))
			b.WriteString(" ")
		}
	}
	for _, s := range resp.Steps {
		b.WriteString(fmt.Sprintf("Step %d, %s", s.Number, ensureSentence(s.Text)))
		b.WriteString(" ")
	}

	return capAtSentence(strings.TrimSpace(b.String()))
}

func ensureSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	last := text[len(text)-1]
	if last != '.' && last != '!' && last != '?' {
		text += "."
	}
	return text
}

// capAtSentence truncates at the last sentence boundary inside the cap.
func capAtSentence(text string) string {
	if len(text) <= speechHardCap {
		return text
	}

	cut := -1
	for i := 0; i < speechHardCap; i++ {
		switch text[i] {
		case '.', '!', '?':
			cut = i + 1
		}
	}
	if cut < 0 {
		// No boundary at all inside the cap: hard cut.
		return strings.TrimSpace(text[:speechHardCap])
	}
	return strings.TrimSpace(text[:cut])
}
