package config

import (
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/tOgg1/fedeploy/internal/models"
)

// KeyringPrefix marks a credential value stored in the OS keyring, written
// as keyring:<service>/<user>.
const KeyringPrefix = "keyring:"

// ResolveCredentials replaces keyring references in the target's password
// and passphrase with the stored secrets. Plain values are left untouched.
func ResolveCredentials(target *models.Target) error {
	for _, field := range []struct {
		name  string
		value *string
	}{
		{"password", &target.Password},
		{"passphrase", &target.Passphrase},
	} {
		secret, err := resolveSecret(*field.value)
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = secret
	}
	return nil
}

func resolveSecret(value string) (string, error) {
	ref, ok := strings.CutPrefix(value, KeyringPrefix)
	if !ok {
		return value, nil
	}

	service, user, ok := strings.Cut(ref, "/")
	if !ok || service == "" || user == "" {
		return "", fmt.Errorf("invalid keyring reference %q, want keyring:<service>/<user>", value)
	}

	secret, err := keyring.Get(service, user)
	if err != nil {
		return "", fmt.Errorf("keyring lookup %s/%s: %w", service, user, err)
	}
	return secret, nil
}
