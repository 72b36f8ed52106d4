package ir

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CanonicalName returns the ledger form of a class id or action name.
//
// The ledger is keyed by name: an action whose name changes is treated as
// never executed and runs again. Two spellings that render identically
// (composed vs decomposed accents) must therefore map to the same key, so
// names are NFC normalized and trimmed. Empty names and names containing
// control characters are rejected.
func CanonicalName(s string) (string, error) {
	name := strings.TrimSpace(norm.NFC.String(s))
	if name == "" {
		return "", fmt.Errorf("name must not be empty")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("name %q contains control character %U", name, r)
		}
	}
	return name, nil
}

// validIdentifier matches SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether s may be interpolated into SQL as a
// table or column name.
func ValidIdentifier(s string) bool {
	return validIdentifier.MatchString(s)
}
