package guardrail

import "regexp"

// zeroWidth matches characters commonly used to split up or hide
// injection payloads from naive substring matching (zero-width space,
// zero-width joiners, byte-order mark).
var zeroWidth = regexp.MustCompile(`[\x{200B}\x{200C}\x{200D}\x{FEFF}]`)

// horizontalWhitespaceRun collapses runs of spaces/tabs to a single
// space, leaving newlines alone so paragraph structure survives.
var horizontalWhitespaceRun = regexp.MustCompile(`[ \t]{2,}`)

// excessBlankLines caps three or more consecutive newlines down to two,
// i.e. at most one blank line between paragraphs.
var excessBlankLines = regexp.MustCompile(`\n{3,}`)

// emptyTagPair cleans up a tag pair left empty once Sanitize has
// replaced everything between its open and close markers.
var emptyTagPair = regexp.MustCompile(`<([a-zA-Z_]+)>\s*</[a-zA-Z_]+>`)

// Normalize strips zero-width characters, collapses horizontal whitespace
// runs, and caps consecutive blank lines at 2, ahead of pattern matching
// so cosmetic padding can't be used to dodge a pattern.
func Normalize(text string) string {
	text = zeroWidth.ReplaceAllString(text, "")
	text = horizontalWhitespaceRun.ReplaceAllString(text, " ")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")
	return text
}

// cleanEmptyTags removes any tag pair that replacement has left with
// nothing but whitespace inside it.
func cleanEmptyTags(text string) string {
	return emptyTagPair.ReplaceAllString(text, "")
}
