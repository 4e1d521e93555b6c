package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

// keyringService is the service name used in the OS keyring.
const keyringService = "notesbot"

// Keyring entry names, as accepted by `notesbot config set-secret`.
const (
	SecretTelegramToken = "telegram_token"
	SecretDiscordToken  = "discord_token"
	SecretAPIToken      = "api_token"
	SecretGatewayToken  = "gateway_token"
)

// SecretNames lists every secret the keyring may hold.
var SecretNames = []string{SecretTelegramToken, SecretDiscordToken, SecretAPIToken, SecretGatewayToken}

// keyringGet is swapped in tests.
var keyringGet = GetKeyring

// IsSecretName reports whether name is a known secret.
func IsSecretName(name string) bool {
	for _, n := range SecretNames {
		if n == name {
			return true
		}
	}
	return false
}

// StoreKeyring saves a secret to the OS keyring.
func StoreKeyring(key, value string) error {
	if !IsSecretName(key) {
		return fmt.Errorf("unknown secret %q (known: %s)", key, strings.Join(SecretNames, ", "))
	}
	return keyring.Set(keyringService, key, value)
}

// GetKeyring retrieves a secret from the OS keyring, or "" if absent or
// the keyring is unavailable.
func GetKeyring(key string) string {
	val, err := keyring.Get(keyringService, key)
	if err != nil {
		return ""
	}
	return val
}

// DeleteKeyring removes a secret from the OS keyring.
func DeleteKeyring(key string) error {
	return keyring.Delete(keyringService, key)
}

// KeyringAvailable checks if the OS keyring is accessible.
func KeyringAvailable() bool {
	testKey := "__notesbot_test__"
	if err := keyring.Set(keyringService, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(keyringService, testKey)
	return true
}

// ReadPassword prompts on stdout and reads a line without echo when stdin
// is a terminal.
func ReadPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
