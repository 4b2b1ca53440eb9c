package rowsource

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	lower = cases.Lower(language.Bulgarian)

	decimalComma = regexp.MustCompile(`(\d),(\d)`)
	decimalPoint = regexp.MustCompile(`(\d)\.(\d)`)
	tabletMarker = regexp.MustCompile(`тбл`)
	spaces       = regexp.MustCompile(`\s+`)

	// A pack multiplier is a Latin x or Cyrillic х that starts a token and
	// is followed by a count, as in "x 20", "х20" or "30x10".
	multiplierSpaced = regexp.MustCompile(`(^|[\s\d])([xх])\s+(\d)`)
	multiplier       = regexp.MustCompile(`(^|[\s\d])[xх](\d)`)
)

const decimalMark = "\x00"

// Variants returns the search attempts for a product name, most specific
// first: multiplier joined to its count, multiplier spaced, multiplier
// removed. Duplicates are dropped keeping the first occurrence.
func Variants(name string) []string {
	base := normalize(name)

	joined := multiplierSpaced.ReplaceAllString(base, "$1$2$3")
	stripped := collapse(multiplier.ReplaceAllString(joined, "$1$2"))

	return unique([]string{joined, base, stripped})
}

func normalize(name string) string {
	s := lower.String(strings.TrimSpace(name))
	s = markDecimals(decimalComma, s)
	s = markDecimals(decimalPoint, s)
	s = strings.NewReplacer(".", " ", "/", " ", "!", "").Replace(s)
	s = strings.ReplaceAll(s, decimalMark, ".")
	s = tabletMarker.ReplaceAllString(s, "")
	return collapse(s)
}

// markDecimals replaces every separator re matches between two digits.
// Matches overlap in runs like "1,2,3", so it repeats until nothing changes.
func markDecimals(re *regexp.Regexp, s string) string {
	for {
		next := re.ReplaceAllString(s, "$1"+decimalMark+"$2")
		if next == s {
			return s
		}
		s = next
	}
}

func collapse(s string) string {
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func unique(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
