package agent

import "strings"

const maxSpokenWords = 20

// TruncateForSpeech clips an agent reply to a length suitable for telephony
// playback. The first complete sentence wins when one exists; otherwise the
// text is cut at twenty words and terminal punctuation restored.
func TruncateForSpeech(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if sentence := firstSentence(text); sentence != "" {
		return sentence
	}

	words := strings.Fields(text)
	if len(words) <= maxSpokenWords {
		return ensureTerminal(text)
	}
	clipped := strings.Join(words[:maxSpokenWords], " ")
	return ensureTerminal(strings.TrimRight(clipped, ",;: "))
}

// firstSentence returns the leading sentence of text, or "" when no sentence
// boundary is found. A boundary is terminal punctuation followed by a space
// or end of text, with a guard against cutting on decimals like "3.5".
func firstSentence(text string) string {
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(text) {
			next := text[i+1]
			if next != ' ' && next != '\n' && next != '\t' {
				continue
			}
		}
		if r == '.' && i > 0 && i+1 < len(text) && isDigit(text[i-1]) {
			continue
		}
		return strings.TrimSpace(text[:i+1])
	}
	return ""
}

func ensureTerminal(text string) string {
	if text == "" {
		return text
	}
	switch text[len(text)-1] {
	case '.', '!', '?':
		return text
	}
	return text + "."
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
