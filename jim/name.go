package jim

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxNameLength is the longest account name, in characters.
const MaxNameLength = 25

// ErrInvalidName is returned for account names that cannot be registered.
var ErrInvalidName = errors.New("invalid account name")

// CheckName reports whether name is usable as an account name: non-empty, at
// most MaxNameLength characters, without whitespace, control characters or
// ':'.
func CheckName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case utf8.RuneCountInString(name) > MaxNameLength:
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidName, MaxNameLength)
	case strings.ContainsRune(name, ':'):
		return fmt.Errorf("%w: %q contains ':'", ErrInvalidName, name)
	case strings.IndexFunc(name, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidName, name)
	}
	return nil
}
