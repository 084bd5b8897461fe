package chat

import (
	"regexp"
	"strings"
	"unicode"
)

// The generator is told not to open with greetings or close with
// offers of further help, but models drift. Sanitize enforces the
// formatting rules on the way out.
var (
	leadingSalutationRe = regexp.MustCompile(`(?i)^\s*(?:good\s+morning|good\s+afternoon|good\s+evening|hello|hi|hey)[^\n.!?]*[.!?]?\s*`)
	trailingCloserRe    = regexp.MustCompile(`(?i)\s*(?:how may i assist you(?: today)?\??|how can i help(?: you)?\??|how may i help\??|let me know if you need anything\.?\s*)$`)
	greetingLineRe      = regexp.MustCompile(`(?i)^(?:good\s+morning|good\s+afternoon|good\s+evening|hello|hi|hey)\b`)
	closerLineRe        = regexp.MustCompile(`(?i)how (may|can) (i|we) (assist|help)`)
	listMarkerPrefixRe  = regexp.MustCompile(`^[-*+\s]+`)
	starBulletRe        = regexp.MustCompile(`(?m)^\s*\*\s*`)
	trailingSpaceRe     = regexp.MustCompile(`[ \t]+\n`)
)

// Sanitize post-processes a generated answer: strips salutations and
// closers, normalizes bullet markers, and bulletizes multi-sentence
// answers.
func Sanitize(text string) string {
	text = leadingSalutationRe.ReplaceAllString(text, "")
	text = trailingCloserRe.ReplaceAllString(strings.TrimSpace(text), "")

	text = strings.ReplaceAll(text, "�", "-")
	text = strings.ReplaceAll(text, "**", "")

	parts := splitSentences(strings.TrimSpace(text))
	cleaned := parts[:0]
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		if greetingLineRe.MatchString(s) || closerLineRe.MatchString(s) {
			continue
		}
		cleaned = append(cleaned, s)
	}

	if len(cleaned) >= 2 {
		bullets := make([]string, len(cleaned))
		for i, p := range cleaned {
			bullets[i] = "- " + listMarkerPrefixRe.ReplaceAllString(p, "")
		}
		text = strings.Join(bullets, "\n\n")
	} else if len(cleaned) == 1 {
		text = cleaned[0]
	} else {
		text = ""
	}

	text = starBulletRe.ReplaceAllString(text, "- ")
	text = strings.ReplaceAll(text, "\n* ", "\n- ")
	text = strings.ReplaceAll(text, "**", "")
	text = trailingSpaceRe.ReplaceAllString(text, "\n")

	return strings.TrimSpace(text)
}

// splitSentences cuts after [.!?] runs of whitespace followed by an
// upper-case letter or digit. Go's regexp has no lookbehind, so this
// is a manual scan.
func splitSentences(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	var (
		parts []string
		start int
	)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) {
			continue
		}
		next := runes[j]
		if unicode.IsUpper(next) || unicode.IsDigit(next) {
			parts = append(parts, string(runes[start:i+1]))
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}
	return parts
}
