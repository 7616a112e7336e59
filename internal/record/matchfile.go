package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// MatchPair associates one property with one permit whose normalized
// address equals the property's. Both sides are kept as the raw objects
// written by the match stage so that no vendor attribute is lost.
type MatchPair struct {
	Property json.RawMessage `json:"property,omitempty"`
	Permit   json.RawMessage `json:"permit,omitempty"`
}

// HasProperty reports whether the pair carries a property object
func (m MatchPair) HasProperty() bool {
	return len(bytes.TrimSpace(m.Property)) > 0 && !bytes.Equal(bytes.TrimSpace(m.Property), []byte("null"))
}

// HasPermit reports whether the pair carries a permit object
func (m MatchPair) HasPermit() bool {
	return len(bytes.TrimSpace(m.Permit)) > 0 && !bytes.Equal(bytes.TrimSpace(m.Permit), []byte("null"))
}

// ReadMatchFile reads a region's match pairs
func ReadMatchFile(path string) ([]MatchPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read match file %s: %w", path, err)
	}

	var pairs []MatchPair
	if err := json.Unmarshal(SanitizeJSON(data), &pairs); err != nil {
		return nil, fmt.Errorf("failed to parse match file %s: %w", path, err)
	}
	return pairs, nil
}

// WriteMatchFile writes match pairs as indented JSON, creating parent dirs
func WriteMatchFile(path string, pairs []MatchPair) error {
	if pairs == nil {
		pairs = []MatchPair{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode match pairs: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// SanitizeJSON replaces the bare NaN, Infinity and -Infinity tokens that
// some exporters emit with null. String contents are left untouched.
func SanitizeJSON(data []byte) []byte {
	if !bytes.Contains(data, []byte("NaN")) && !bytes.Contains(data, []byte("Infinity")) {
		return data
	}

	out := make([]byte, 0, len(data))
	inString := false
	escaped := false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			out = append(out, c)
		case bytes.HasPrefix(data[i:], []byte("NaN")):
			out = append(out, "null"...)
			i += len("NaN") - 1
		case bytes.HasPrefix(data[i:], []byte("-Infinity")):
			out = append(out, "null"...)
			i += len("-Infinity") - 1
		case bytes.HasPrefix(data[i:], []byte("Infinity")):
			out = append(out, "null"...)
			i += len("Infinity") - 1
		default:
			out = append(out, c)
		}
	}
	return out
}
