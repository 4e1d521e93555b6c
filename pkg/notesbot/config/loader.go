package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR.
//
// Capture groups:
//   - Group 1: variable name (${} syntax)
//   - Group 2: modifier ("-" for default, "?" for error)
//   - Group 3: default value or error message
//   - Group 4: variable name (bare $VAR syntax)
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Environment variables that override secrets.
const (
	EnvTelegramToken = "NOTESBOT_TELEGRAM_TOKEN"
	EnvDiscordToken  = "NOTESBOT_DISCORD_TOKEN"
	EnvAPIToken      = "NOTESBOT_API_TOKEN"
	EnvGatewayToken  = "NOTESBOT_GATEWAY_TOKEN"
)

// Load reads the config file at path, or only defaults and environment
// when path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		loadEnvFiles()
		cfg := DefaultConfig()
		resolveSecrets(cfg)
		return cfg, nil
	}
	return LoadConfigFromFile(path)
}

// LoadConfigFromFile reads and parses a YAML configuration file. It loads
// .env files first, expands environment references and resolves secrets.
// An unset ${VAR:?msg} reference is an error.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := ParseConfig([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// ParseConfig overlays YAML onto DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML with owner-only permissions, keeping
// a .bak copy of the previous file. Secrets that came from the environment
// are written back as ${VAR} references.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.API.Token = sanitizeSecret(cfg.API.Token, EnvAPIToken)
	sanitized.Channels.Telegram.Token = sanitizeSecret(cfg.Channels.Telegram.Token, EnvTelegramToken)
	sanitized.Channels.Discord.Token = sanitizeSecret(cfg.Channels.Discord.Token, EnvDiscordToken)
	sanitized.Gateway.AuthToken = sanitizeSecret(cfg.Gateway.AuthToken, EnvGatewayToken)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"config.yaml",
		"config.yml",
		"notesbot.yaml",
		"notesbot.yml",
		"configs/config.yaml",
		"configs/notesbot.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// IsEnvReference reports whether s is an unexpanded environment reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// ---------- Internal ----------

// loadEnvFiles loads .env files without overriding the environment.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces environment references in input. Unset ${VAR}
// and $VAR references are kept; an unset ${VAR:?msg} becomes an
// "ERROR:VAR:msg" marker for expandEnvVarsWithValidation.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if val, ok := os.LookupEnv(bare); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + value
		case "-":
			return value
		default:
			return match
		}
	})
}

// expandEnvVarsWithValidation is expandEnvVars that fails on the first
// unset required variable.
func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx == -1 {
		return result, nil
	}
	rest := result[idx+len("ERROR:"):]
	varName, msg, ok := strings.Cut(rest, ":")
	if !ok {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	if nl := strings.IndexByte(msg, '\n'); nl >= 0 {
		msg = msg[:nl]
	}
	return "", fmt.Errorf("config error: %s - %s", varName, strings.TrimSpace(msg))
}

// resolveSecrets applies the secret chain: environment, then OS keyring,
// then whatever the config file holds.
func resolveSecrets(cfg *Config) {
	resolveSecret(&cfg.Channels.Telegram.Token, EnvTelegramToken, SecretTelegramToken)
	resolveSecret(&cfg.Channels.Discord.Token, EnvDiscordToken, SecretDiscordToken)
	resolveSecret(&cfg.API.Token, EnvAPIToken, SecretAPIToken)
	resolveSecret(&cfg.Gateway.AuthToken, EnvGatewayToken, SecretGatewayToken)
}

func resolveSecret(field *string, envVar, keyringKey string) {
	if v := os.Getenv(envVar); v != "" {
		*field = v
		return
	}
	if v := keyringGet(keyringKey); v != "" {
		*field = v
		return
	}
	if IsEnvReference(*field) {
		*field = ""
	}
}

// resolveRelativePaths makes the database path relative to the config
// file's directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	if cfg.Database.Path == "" || cfg.Database.Path == ":memory:" {
		return
	}
	cfg.Database.Path = resolvePathFromConfig(cfg.Database.Path, filepath.Dir(configPath))
}

func resolvePathFromConfig(path, configDir string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// sanitizeSecret writes a secret that came from envVar back as a reference.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// checkFilePermissions warns if the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
