package conversation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidSender reports a sender address that cannot be normalized.
var ErrInvalidSender = errors.New("invalid sender address")

// NormalizeIdentity canonicalizes a channel sender address so that one
// sender always maps to one record: the optional "whatsapp:" prefix and all
// whitespace are stripped and a leading "+" is ensured. Anything that does
// not reduce to "+" followed by digits is rejected.
func NormalizeIdentity(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "whatsapp:")
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "", ErrInvalidSender
	}
	if !strings.HasPrefix(s, "+") {
		s = "+" + s
	}
	if len(s) < 2 {
		return "", ErrInvalidSender
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return "", ErrInvalidSender
		}
	}
	return s, nil
}
