// Package totp wraps time-based one-time-password checks for the
// login flow. A profile is enrolled when its metadata carries a TOTP
// secret; unenrolled profiles always pass.
package totp

import (
	"fmt"

	"github.com/pquerna/otp/totp"
)

// Check validates code against secret. An empty secret means the
// account is not enrolled and always passes.
func Check(secret, code string) bool {
	if secret == "" {
		return true
	}
	return totp.Validate(code, secret)
}

// GenerateSecret creates a new enrollment secret for the given account.
func GenerateSecret(issuer, account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", fmt.Errorf("generating totp secret: %w", err)
	}
	return key.Secret(), nil
}
