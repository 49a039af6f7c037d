package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

const apiTokenAccount = "api_token"

// GetAPIToken returns the bearer token of the HTTP API, generating and
// storing one on first use. FITREG_API_TOKEN takes precedence.
func GetAPIToken(kc Keychain) (string, error) {
	if v := os.Getenv("FITREG_API_TOKEN"); v != "" {
		return v, nil
	}
	if v, err := kc.Get(Service, apiTokenAccount); err == nil && v != "" {
		return v, nil
	}

	token := uuid.NewString()
	if err := kc.Set(Service, apiTokenAccount, token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
