package config

import (
	"errors"
	"strings"

	"github.com/ShayCichocki/automaker/internal/store"
)

// ErrNoAPIKey is returned when no API key is configured.
var ErrNoAPIKey = errors.New("no Anthropic API key configured")

// anthropicCredentialKey is the provider key under which the Anthropic API
// key is stored in the credentials file.
const anthropicCredentialKey = "anthropic"

// GetAPIKey returns the Anthropic API key from the user's credentials
// store. The environment is deliberately not consulted.
func GetAPIKey(userData *store.UserData) (string, error) {
	if userData == nil {
		return "", ErrNoAPIKey
	}
	key, err := userData.Credential(anthropicCredentialKey)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// SetAPIKey validates and stores the Anthropic API key in the user's
// credentials store.
func SetAPIKey(userData *store.UserData, key string) error {
	if err := ValidateAPIKey(key); err != nil {
		return err
	}
	return userData.SetCredential(anthropicCredentialKey, key)
}

// ValidateAPIKey performs basic format checks on an API key. It does not
// verify the key against the API.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrNoAPIKey
	}
	if !strings.HasPrefix(key, "sk-ant-") {
		return errors.New("invalid API key format: expected 'sk-ant-' prefix")
	}
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}
	return nil
}

// MaskAPIKey returns a masked version of the API key for display. Shows the
// prefix and the last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return strings.Repeat("*", len(key))
	}
	return key[:7] + strings.Repeat("*", len(key)-11) + key[len(key)-4:]
}
