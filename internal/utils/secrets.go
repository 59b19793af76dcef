package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// signingSecretBytes is 256 bits, the HS256 key size
const signingSecretBytes = 32

// SigningSecretVars are the secrets generated locally for this deployment.
// Stripe and GDS credentials are issued by the providers, never generated.
var SigningSecretVars = []string{"JWT_SECRET", "JWT_REFRESH_SECRET"}

// SigningSecret is a generated value for one environment variable
type SigningSecret struct {
	EnvVar string
	Value  string
}

// EnvLine renders the secret as a .env assignment
func (s SigningSecret) EnvLine() string {
	return s.EnvVar + "=" + s.Value
}

// GenerateSigningSecrets returns a distinct hex secret for each variable, in order
func GenerateSigningSecrets(vars ...string) ([]SigningSecret, error) {
	out := make([]SigningSecret, 0, len(vars))
	seenVar := make(map[string]bool, len(vars))
	seenValue := make(map[string]bool, len(vars))

	for _, v := range vars {
		if v == "" || seenVar[v] {
			return nil, fmt.Errorf("invalid or duplicate secret variable %q", v)
		}
		seenVar[v] = true

		b := make([]byte, signingSecretBytes)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate %s: %w", v, err)
		}
		value := hex.EncodeToString(b)
		if seenValue[value] {
			return nil, fmt.Errorf("generated identical secrets")
		}
		seenValue[value] = true
		out = append(out, SigningSecret{EnvVar: v, Value: value})
	}
	return out, nil
}
