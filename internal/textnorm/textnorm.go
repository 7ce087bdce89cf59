// Package textnorm provides the text normalization primitives shared by the
// blocklist filter, the rewrite guardrails, and slug generation: diacritic
// folding, fuzzy title comparison, slugs, and excerpts.
//
// All functions are pure and safe for concurrent use.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after NFD decomposition, so "Șoc" folds
// to "Soc" and "Complètement" to "Completement".
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// quoteStripper drops typographic and plain quotes before comparison.
var quoteStripper = strings.NewReplacer(
	`"`, "", "'", "", "„", "", "”", "", "“", "", "’", "", "‘", "", "«", "", "»", "",
)

// Fold normalizes a string for case- and diacritic-insensitive comparison:
// combining marks are stripped, quotes removed, whitespace collapsed to single
// spaces, and the result lowercased. Used by the blocklist substring matcher.
func Fold(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		// Transform only fails on invalid UTF-8; compare the raw bytes then.
		folded = s
	}
	folded = quoteStripper.Replace(folded)
	folded = strings.ToLower(folded)
	return strings.Join(strings.Fields(folded), " ")
}

// FoldStrict is Fold plus removal of every non-alphanumeric rune, so
// punctuation differences ("Alertă: Șoc!" vs "alerta soc") disappear.
// Word boundaries are preserved as single spaces.
func FoldStrict(s string) string {
	var b strings.Builder
	for _, r := range Fold(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// titleContainmentMin is the minimum folded length at which substring
// containment counts as "the same title". Below it, short strings like "A"
// would match almost anything.
const titleContainmentMin = 20

// TitlesLookSame reports whether two titles are effectively the same once
// diacritics, case, quotes, and punctuation are ignored. Equality always
// matches; containment matches only when the contained title is long enough
// to be meaningful.
func TitlesLookSame(a, b string) bool {
	fa, fb := FoldStrict(a), FoldStrict(b)
	if fa == "" || fb == "" {
		return false
	}
	if fa == fb {
		return true
	}
	if len(fa) >= titleContainmentMin && strings.Contains(fb, fa) {
		return true
	}
	if len(fb) >= titleContainmentMin && strings.Contains(fa, fb) {
		return true
	}
	return false
}

// SlugFallback is used when a title yields no usable slug characters.
const SlugFallback = "article"

// Slugify derives a URL-safe slug from a title: diacritics folded, quotes
// dropped, every other non-alphanumeric run collapsed to a single hyphen,
// lowercased, hyphens trimmed at both ends.
func Slugify(title string) string {
	folded, _, err := transform.String(stripMarks, strings.TrimSpace(title))
	if err != nil {
		folded = strings.TrimSpace(title)
	}
	folded = quoteStripper.Replace(folded)

	var b strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return SlugFallback
	}
	return slug
}

// Excerpt collapses whitespace and truncates text to maxLen runes, appending
// an ellipsis when the text was cut. Truncation never splits a rune.
func Excerpt(text string, maxLen int) string {
	cleaned := strings.Join(strings.Fields(text), " ")
	if cleaned == "" || maxLen <= 0 {
		return ""
	}
	r := []rune(cleaned)
	if len(r) <= maxLen {
		return cleaned
	}
	return strings.TrimRight(string(r[:maxLen-1]), " ") + "…"
}
