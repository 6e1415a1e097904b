package tokenize

import (
	"strings"
	"unicode"

	"github.com/vigia-news/vigia/pkg/common"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords are name particles that never qualify a token as distinctive.
// Spanish first since that is the bulk of the corpus, plus the English
// particles that show up in international names.
var stopwords = map[string]struct{}{
	"de": {}, "del": {}, "la": {}, "las": {}, "el": {}, "los": {},
	"y": {}, "e": {}, "en": {}, "al": {}, "da": {}, "do": {}, "dos": {},
	"van": {}, "von": {}, "der": {}, "di": {},
	"the": {}, "of": {}, "and": {}, "for": {}, "a": {},
}

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases s, strips diacritics and removes periods. This is
// the canonical token form used by the reverse index and the LSH matcher.
func Normalize(s string) string {
	stripped, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		stripped = s
	}
	stripped = strings.ToLower(stripped)
	return strings.ReplaceAll(stripped, ".", "")
}

// IsStopword reports whether the normalized form of s is a name particle.
func IsStopword(s string) bool {
	_, ok := stopwords[Normalize(s)]
	return ok
}

// Tokenize splits an entity name into ordered token candidates. The
// returned tokens carry no entity id; callers attach ownership when
// persisting.
//
// Splitting treats any rune that is not a letter or digit as a separator,
// except a period with a letter or digit on both sides: "J.C.E." keeps its
// internal periods as one token while the trailing period, having nothing
// after it, separates. A token that contained internal periods gets a
// single trailing period re-appended, so "J.C.E" reconstructs as "J.C.E.".
func Tokenize(name string) []common.Token {
	raw := splitName(name)
	if len(raw) == 0 {
		return nil
	}

	nonStopword := 0
	for _, piece := range raw {
		if !IsStopword(piece) {
			nonStopword++
		}
	}

	tokens := make([]common.Token, 0, len(raw))
	for pos, piece := range raw {
		text := piece
		if strings.Contains(piece, ".") && !strings.HasSuffix(piece, ".") {
			text = piece + "."
		}

		tokens = append(tokens, common.Token{
			Text:              text,
			TextNormalized:    Normalize(text),
			Position:          pos,
			IsStopword:        IsStopword(text),
			LooksLikeInitials: looksLikeInitials(text, name, nonStopword),
		})
	}
	return tokens
}

func splitName(name string) []string {
	rs := []rune(name)
	var pieces []string
	var cur strings.Builder

	for i, r := range rs {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case r == '.' && i > 0 && i < len(rs)-1 &&
			isLetterOrDigit(rs[i-1]) && isLetterOrDigit(rs[i+1]):
			cur.WriteRune(r)
		default:
			if cur.Len() > 0 {
				pieces = append(pieces, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		pieces = append(pieces, cur.String())
	}
	return pieces
}

func isLetterOrDigit(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// looksLikeInitials is true only for the single distinctive token of a
// name when that token is fully upper-case and spans the whole name
// (ignoring trailing periods on both sides). "JCE" and "J.C.E." qualify,
// any token of "Junta Central Electoral" does not.
func looksLikeInitials(token, name string, nonStopwordCount int) bool {
	if nonStopwordCount != 1 {
		return false
	}
	if !isAllUpper(token) {
		return false
	}
	return strings.TrimRight(token, ".") == strings.TrimRight(strings.TrimSpace(name), ".")
}

func isAllUpper(s string) bool {
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return letters > 0
}

// Initials returns the concatenated first letters of the non-stopword
// tokens, normalized. "Junta Central Electoral" yields "jce".
func Initials(tokens []common.Token) string {
	var b strings.Builder
	for _, t := range tokens {
		if t.IsStopword {
			continue
		}
		rs := []rune(t.TextNormalized)
		if len(rs) == 0 {
			continue
		}
		b.WriteRune(rs[0])
	}
	return b.String()
}
