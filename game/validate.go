package game

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`[^\w\s]`)

// Validate reports whether an answer is correct for the given mode.
//
// Empty or whitespace-only answers are always wrong. Exact mode compares
// case-insensitively, multiple-choice compares byte-exactly (the client sent
// one of the offered options verbatim), and fuzzy mode normalizes both sides
// and accepts either being a substring of the other, so both over- and
// under-specified answers pass.
func Validate(mode Mode, answer, correct string) bool {
	if strings.TrimSpace(answer) == "" {
		return false
	}

	switch mode {
	case ModeExact:
		return strings.EqualFold(answer, correct)
	case ModeMultipleChoice:
		return answer == correct
	case ModeFuzzy:
		a := normalizeAnswer(answer)
		c := normalizeAnswer(correct)
		if a == "" || c == "" {
			return false
		}
		return strings.Contains(a, c) || strings.Contains(c, a)
	}

	return false
}

// normalizeAnswer lowercases, strips a single leading "the ", drops anything
// that is not a word character or space, and trims.
func normalizeAnswer(s string) string {
	s = strings.ToLower(s)
	s = strings.TrimPrefix(s, "the ")
	s = nonWord.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
