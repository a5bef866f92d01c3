package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Text normalizes free text from a statement: unicode marks removed,
// whitespace collapsed, uppercased. Length is never truncated; storage owns
// any length policy.
func Text(s string) string {
	normalized, _, err := transform.String(stripMarks, s)
	if err != nil {
		normalized = s
	}
	fields := strings.Fields(normalized)
	return strings.ToUpper(strings.Join(fields, " "))
}

// Counterparty derives a merchant-ish name from a normalized description by
// dropping reference tokens (store numbers, card suffixes, dates baked into
// the text). Falls back to the full description when everything qualifies
// as a reference.
func Counterparty(description string) string {
	// Card descriptors put reference codes after a '*' ("AMZN MKTP US*RT4Y12").
	if i := strings.IndexByte(description, '*'); i > 0 {
		description = description[:i]
	}
	tokens := strings.Fields(Text(description))
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if isReferenceToken(tok) {
			continue
		}
		kept = append(kept, tok)
		if len(kept) == 4 {
			break
		}
	}
	if len(kept) == 0 {
		return Text(description)
	}
	return strings.Join(kept, " ")
}

// isReferenceToken reports whether a token is mostly digits or punctuation,
// e.g. "#02941", "X8821", "03/01".
func isReferenceToken(tok string) bool {
	digits := 0
	letters := 0
	for _, r := range tok {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsLetter(r):
			letters++
		}
	}
	if digits == 0 {
		return letters == 0
	}
	return digits >= letters
}
