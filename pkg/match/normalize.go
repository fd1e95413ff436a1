package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldTransformer strips diacritics: decompose, drop combining marks,
// recompose.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// legalSuffixes are corporate suffixes ignored when comparing names.
// Domain words like "Homes" or "Builders" stay: they distinguish real
// company names.
var legalSuffixes = map[string]bool{
	"llc": true, "inc": true, "ltd": true, "lp": true, "llp": true, "co": true, "corp": true,
}

// canonicalName normalizes an entity name for comparison: diacritic
// folding, lowercasing, punctuation removal, whitespace collapse, and
// legal-suffix stripping.
func canonicalName(name string) string {
	folded, _, err := transform.String(foldTransformer, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	out := words[:0]
	for _, w := range words {
		if legalSuffixes[w] {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// canonicalLocation lowercases and trims a city or state value.
func canonicalLocation(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CanonicalName exposes name normalization for callers that persist or
// look up match signatures, so stored signatures compare consistently
// with in-process matching.
func CanonicalName(name string) string {
	return canonicalName(name)
}

// CanonicalLocation exposes location normalization for match
// signatures.
func CanonicalLocation(s string) string {
	return canonicalLocation(s)
}

// similarity scores two canonical names in [0,1]. Containment scores by
// length ratio; otherwise token overlap (Jaccard). Returns 0 when the
// names share nothing useful.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		shorter, longer := len(a), len(b)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		return float64(shorter) / float64(longer)
	}

	aw := strings.Fields(a)
	bw := strings.Fields(b)
	set := make(map[string]bool, len(aw))
	for _, w := range aw {
		set[w] = true
	}
	shared := 0
	for _, w := range bw {
		if set[w] {
			shared++
		}
	}
	union := len(aw) + len(bw) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// canonicalDomain reduces a website URL to its bare host for
// contact-identifier comparison.
func canonicalDomain(url string) string {
	s := strings.ToLower(strings.TrimSpace(url))
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// canonicalPhone keeps digits only, dropping a leading country code 1.
func canonicalPhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	return digits
}
