package coerce

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CleanText replaces ill-formed UTF-8 with U+FFFD and applies NFC. Scraped
// payloads occasionally carry lone surrogates and decomposed accents.
func CleanText(s string) string {
	if s == "" {
		return s
	}
	if utf8.ValidString(s) && norm.NFC.IsNormalString(s) {
		return s
	}
	out, _, err := transform.String(transform.Chain(runes.ReplaceIllFormed(), norm.NFC), s)
	if err != nil {
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	return out
}

// StripHTML removes <...> tag sequences. It is a heuristic, not a parser:
// it assumes tags never contain '<' or '>' in attribute values.
func StripHTML(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch r {
		case '<':
			inTag = true
		case '>':
			if inTag {
				inTag = false
				b.WriteByte(' ')
			}
		default:
			if !inTag {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// CollapseWhitespace reduces whitespace runs (including NBSP) to one space
// and trims the ends.
func CollapseWhitespace(s string) string {
	if s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	seenSpace := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\u00a0':
			if !seenSpace {
				b.WriteByte(' ')
				seenSpace = true
			}
		default:
			b.WriteRune(r)
			seenSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}

// PlainText strips markup and collapses whitespace.
func PlainText(s string) string {
	return CollapseWhitespace(StripHTML(s))
}
