package webauth

import "strings"

// OptionalField normalizes a submitted form value: surrounding
// whitespace is dropped and an empty value reports absent.
func OptionalField(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}
