package normalize

import (
	"strings"

	"github.com/propmatch/internal/debug"
)

// Missing is how an absent address component renders inside a key. Missing
// data never fails normalization; it only lowers match recall.
const Missing = "None"

// Normalize builds the exact-match key used to join properties to permits.
// Components are lower-cased and joined by single spaces in fixed order.
// There is no fuzzy matching and no abbreviation canonicalization, so
// "Main St" and "Main Street" produce different keys.
func Normalize(streetNo, street, city, zip string) string {
	return joinKey(streetNo, street, city, zip)
}

// NormalizeNoCity builds the key used to find the same address recorded
// under different city spellings within one dataset.
func NormalizeNoCity(streetNo, street, zip string) string {
	return joinKey(streetNo, street, zip)
}

// NormalizeDebug is Normalize with debug tracing
func NormalizeDebug(localDebug bool, streetNo, street, city, zip string) string {
	key := Normalize(streetNo, street, city, zip)
	debug.DebugOutput(localDebug, "normalized %q %q %q %q -> %q", streetNo, street, city, zip, key)
	return key
}

func joinKey(parts ...string) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		if part == "" {
			part = Missing
		}
		b.WriteString(strings.ToLower(part))
	}
	return b.String()
}

// SplitStreetLine splits a primary address line such as "123 Main St" into
// its house number and the rest of the line. It splits on the first space
// only, and succeeds only when the first token is all digits and something
// follows it.
func SplitStreetLine(line string) (number, street string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}

	number, street, found := strings.Cut(line, " ")
	if !found || !isDigits(number) {
		return "", "", false
	}
	return number, street, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
