package session

import (
	"fmt"
	"regexp"
)

// Session names become directory names under ~/.feather/sessions, so the
// accepted alphabet is deliberately narrow.
var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName rejects names that cannot safely serve as a session
// directory: lowercase letters, digits, '-' and '_' only, max 64 chars,
// and the first character must be a letter or digit.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("session name is empty")
	}
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use lowercase letters, digits, '-' or '_' (max 64 chars)", name)
	}
	return nil
}
