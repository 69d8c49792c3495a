/*Package sqlid converts human-entered display names into safe SQL identifiers.

Every identifier that ends up interpolated into dynamically generated DDL
must come through this package. There is no parameter binding for
identifiers in Postgres, so this validation is the injection defense for
schema, table and column names.
*/
package sqlid

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxLength is the Postgres identifier length limit.
const MaxLength = 63

var (
	// names may contain letters, digits, underscore, whitespace and hyphens,
	// but must not start with a digit
	nameRegexp = regexp.MustCompile(`^[^\d][\w\s-]+$`)
	// identifiers are lowercase snake_case only
	identifierRegexp = regexp.MustCompile(`^[^\d][a-z0-9_]+$`)
	nonWordRegexp    = regexp.MustCompile(`\W`)
)

// InvalidNameError is returned when a display name does not match the
// accepted name grammar.
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("'%s' contains invalid characters, is not a valid name", e.Name)
}

// InvalidIdentifierError is returned when a string is not a valid lowercase
// SQL identifier.
type InvalidIdentifierError struct {
	Identifier string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("'%s' is not a valid identifier", e.Identifier)
}

// IsValidName returns true if the trimmed name is non-empty, at most 63
// characters long and matches the name grammar.
func IsValidName(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed != "" && len(trimmed) <= MaxLength && nameRegexp.MatchString(trimmed)
}

// IsValidIdentifier returns true if the string is a valid lowercase SQL
// identifier of at most 63 characters.
func IsValidIdentifier(identifier string) bool {
	return len(identifier) <= MaxLength && identifierRegexp.MatchString(identifier)
}

// NameToIdentifier derives the physical identifier for a display name:
// trimmed, lowercased, every non-word character replaced with '_'.
//
// It returns an InvalidNameError if the name does not pass IsValidName. The
// conversion is stable: a successful result always passes IsValidIdentifier,
// anything else indicates an internal inconsistency and is returned as a
// plain error.
func NameToIdentifier(name string) (string, error) {
	if !IsValidName(name) {
		return "", &InvalidNameError{Name: name}
	}
	identifier := nonWordRegexp.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	if !IsValidIdentifier(identifier) {
		return "", fmt.Errorf("converted result '%s' is still not a valid identifier", identifier)
	}
	return identifier, nil
}
