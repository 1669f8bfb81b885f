package archive

import (
	"crypto/sha256"
	"fmt"
	"regexp"

	"github.com/wolfman30/proposal-wizard/internal/validation"
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+84|\b84|\b0)[\s.\-]?[35789](?:[\s.\-]?[0-9]){8}\b`)
)

// HashPhone returns the hex-encoded SHA-256 hash of a phone number with whitespace removed.
func HashPhone(phone string) string {
	h := sha256.Sum256([]byte(validation.NormalizePhone(phone)))
	return fmt.Sprintf("%x", h)
}

// ScrubPII replaces emails with [EMAIL] and phone numbers with [PHONE].
// Names are kept.
func ScrubPII(text string) string {
	text = emailRe.ReplaceAllString(text, "[EMAIL]")
	text = phoneRe.ReplaceAllString(text, "[PHONE]")
	return text
}
