package publish

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/zalando/go-keyring"
)

// ServiceName is the keychain service identifier
const ServiceName = "fluxpack"

// KeychainStore keeps S3 secret keys in the system keychain, keyed by
// endpoint and access key
type KeychainStore struct {
	serviceName string
}

// NewKeychainStore creates a new keychain store
func NewKeychainStore() *KeychainStore {
	return &KeychainStore{
		serviceName: ServiceName,
	}
}

// IsAvailable checks if a keychain is usable on this system
func (k *KeychainStore) IsAvailable() bool {
	switch runtime.GOOS {
	case "darwin", "windows":
		return true
	case "linux":
		// Linux requires a secret service (like gnome-keyring)
		if err := keyring.Set(k.serviceName, "__test__", "test"); err != nil {
			return false
		}
		_ = keyring.Delete(k.serviceName, "__test__")
		return true
	default:
		return false
	}
}

func account(endpoint, accessKey string) string {
	return accessKey + "@" + endpoint
}

// SaveSecret stores the secret key for an endpoint and access key
func (k *KeychainStore) SaveSecret(endpoint, accessKey, secret string) error {
	if err := keyring.Set(k.serviceName, account(endpoint, accessKey), secret); err != nil {
		return fmt.Errorf("failed to save to keychain: %w", err)
	}
	return nil
}

// LoadSecret returns the stored secret, or "" when none is stored
func (k *KeychainStore) LoadSecret(endpoint, accessKey string) (string, error) {
	secret, err := keyring.Get(k.serviceName, account(endpoint, accessKey))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load from keychain: %w", err)
	}
	return secret, nil
}

// DeleteSecret removes a stored secret
func (k *KeychainStore) DeleteSecret(endpoint, accessKey string) error {
	err := keyring.Delete(k.serviceName, account(endpoint, accessKey))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from keychain: %w", err)
	}
	return nil
}
