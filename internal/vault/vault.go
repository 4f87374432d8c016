package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "keygate"

// Vault provides secure API key storage using the OS keychain,
// with fallback to environment variables.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores an API key under the given name in the OS keychain.
func (v *Vault) Set(name, key string) error {
	return keyring.Set(serviceName, name, key)
}

// Get retrieves the API key stored under the given name. It first checks
// the OS keychain, then falls back to the environment variable
// KEYGATE_KEY_{UPPER(name)} with dashes mapped to underscores.
func (v *Vault) Get(name string) (string, error) {
	secret, err := keyring.Get(serviceName, name)
	if err == nil && secret != "" {
		return secret, nil
	}

	envKey := envVarFor(name)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no key found for %q: not in keychain and %s not set", name, envKey)
}

// Delete removes the API key stored under the given name from the OS keychain.
func (v *Vault) Delete(name string) error {
	return keyring.Delete(serviceName, name)
}

// ResolveKeyRef parses a key reference and retrieves the corresponding API key.
// Supported formats:
//   - "keyring://keygate/<name>" (preferred)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	// Format 1: keyring://keygate/<name>
	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://keygate/<name>\")", keyRef)
		}
		return v.Get(parts[1])
	}

	// Format 2: env:VARIABLE_NAME
	if strings.HasPrefix(keyRef, "env:") {
		envVar := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(envVar); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", envVar)
	}

	// Format 3: file:///path/to/key
	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://keygate/<name>\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}

// ResolveAll resolves every key reference in order. It fails on the first
// unresolvable ref so a misconfigured credential list is caught at startup
// rather than surfacing as a smaller pool than configured.
func (v *Vault) ResolveAll(keyRefs []string) ([]string, error) {
	secrets := make([]string, 0, len(keyRefs))
	for i, ref := range keyRefs {
		secret, err := v.ResolveKeyRef(ref)
		if err != nil {
			return nil, fmt.Errorf("resolving key_refs[%d]: %w", i, err)
		}
		secrets = append(secrets, secret)
	}
	return secrets, nil
}

// envVarFor maps a key name to its fallback environment variable.
func envVarFor(name string) string {
	upper := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	return "KEYGATE_KEY_" + upper
}
