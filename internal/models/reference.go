package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// DefaultReferencePrefix is used when no prefix is configured.
const DefaultReferencePrefix = "TGT"

var (
	bookingReferenceRegex = regexp.MustCompile(`^[A-Z]{3}-[A-Z]{3}[0-9]{3}$`)
	referencePrefixRegex  = regexp.MustCompile(`^[A-Z]{3}$`)
)

const referenceLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateBookingReference returns PFX-XXXNNN: the prefix, 3 uppercase letters, 3 digits.
func GenerateBookingReference(prefix string) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultReferencePrefix
	}
	if !referencePrefixRegex.MatchString(prefix) {
		return "", fmt.Errorf("booking reference prefix must be 3 letters, got %q", prefix)
	}

	var sb strings.Builder
	sb.WriteString(prefix)
	sb.WriteByte('-')
	for i := 0; i < 3; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceLetters))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking reference: %w", err)
		}
		sb.WriteByte(referenceLetters[n.Int64()])
	}
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		return "", fmt.Errorf("failed to generate booking reference: %w", err)
	}
	fmt.Fprintf(&sb, "%03d", n.Int64())

	return sb.String(), nil
}

// IsValidBookingReference checks the PFX-XXXNNN format.
func IsValidBookingReference(ref string) bool {
	return bookingReferenceRegex.MatchString(ref)
}
