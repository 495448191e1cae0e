package scanning

import (
	"strings"
)

// cleanTranscript strips the wrapping LLM engines add around a transcription
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	// Remove opening and closing markdown code blocks
	if strings.HasPrefix(text, "```") {
		if idx := strings.Index(text, "\n"); idx != -1 {
			text = text[idx+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	// Normalize line endings and drop trailing spaces the model pads lines with
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
