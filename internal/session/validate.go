package session

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// ValidateIdentity checks an opaque user id before it is used to open a
// connection. Server ids are not otherwise interpreted.
func ValidateIdentity(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is empty")
	}
	if strings.IndexFunc(userID, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("invalid user id %q: must not contain whitespace", userID)
	}
	return nil
}
