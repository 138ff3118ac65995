package ocr

import "strings"

// noTextMarker is what the LLM engines are told to answer for text-free images
const noTextMarker = "NO_TEXT"

// cleanTranscript strips markdown fences and the no-text marker from a model response
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		// Drop the opening fence line, which may carry a language tag
		if nl := strings.Index(text, "\n"); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	if text == noTextMarker {
		return ""
	}
	return text
}
