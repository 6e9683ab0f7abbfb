package redis

import "fmt"

const (
	// KeyPrefixRegistration is the prefix for registration keys
	KeyPrefixRegistration = "namebroker:registration:"
	// KeyAllRegistrations is the key for the set of all registered names
	KeyAllRegistrations = "namebroker:registrations:all"
)

// RegistrationKey returns the Redis key for a registered name
func RegistrationKey(name string) string {
	return KeyPrefixRegistration + name
}

// AllRegistrationsKey returns the key for the set of all registered names
func AllRegistrationsKey() string {
	return KeyAllRegistrations
}

// ExtractName extracts the service name from a registration key
func ExtractName(key string) (string, error) {
	if len(key) <= len(KeyPrefixRegistration) {
		return "", fmt.Errorf("invalid registration key: %s", key)
	}
	return key[len(KeyPrefixRegistration):], nil
}
