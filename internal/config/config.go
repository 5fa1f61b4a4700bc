// Package config loads the bridge's wire configuration (the JSON stream
// registry file described in spec §6) and the ambient operational settings
// that surround it, following the teacher's convention of environment
// variables with sane defaults for everything not part of the versioned
// config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pipirc/bridge/internal/crypto"
	"github.com/pipirc/bridge/internal/streamreg"
)

// LoggingConfig mirrors the "logging" key of the config file. Level and
// Filename are parsed but not read anywhere in the bridge; other keys are
// accepted and ignored so that a hand-edited config file copied from the
// original service doesn't need to be pruned.
type LoggingConfig struct {
	Level    string `json:"level"`
	Filename string `json:"filename"`
}

// Config is the parsed form of the JSON config file described in spec §6.
type Config struct {
	Listen          string                       `json:"listen" validate:"required"`
	Logging         LoggingConfig                `json:"logging"`
	Streams         map[string]*streamreg.Stream `json:"streams" validate:"required"`
	DefaultIRCUser  string                       `json:"default_irc_user"`
	DefaultIRCOAuth string                       `json:"default_irc_oauth"`
}

// knownTopLevelKeys lists every key Config recognizes. Any other top-level
// key in the file is a fatal ConfigError, per spec §6 ("Unknown top-level
// keys are fatal").
var knownTopLevelKeys = map[string]bool{
	"listen":            true,
	"logging":           true,
	"streams":           true,
	"default_irc_user":  true,
	"default_irc_oauth": true,
}

// Load reads and parses the config file at path, decrypting any
// "enc:"-prefixed chat_credential values using the key named by the
// PIPIRC_CONFIG_KEY environment variable.
func Load(path string) (*Config, *streamreg.Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	var unknown []string
	for key := range generic {
		if !knownTopLevelKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		return nil, nil, fmt.Errorf("config: unknown top-level keys: %v", unknown)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	encKey := os.Getenv("PIPIRC_CONFIG_KEY")
	for name, s := range cfg.Streams {
		s.Name = name
		if err := decryptCredential(s, encKey); err != nil {
			return nil, nil, fmt.Errorf("config: stream %s: %w", name, err)
		}
	}

	// Build the registry first so default_irc_user/default_irc_oauth fill in
	// streams that omit their own chat identity before those fields are
	// validated as required.
	registry := streamreg.NewRegistry(cfg.Streams, cfg.DefaultIRCUser, cfg.DefaultIRCOAuth)

	validate := validator.New()
	for name, s := range cfg.Streams {
		if err := validate.Struct(s); err != nil {
			return nil, nil, fmt.Errorf("config: stream %s: invalid: %w", name, err)
		}
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config: invalid: %w", err)
	}

	return &cfg, registry, nil
}

// decryptCredential replaces an "enc:"-prefixed ChatCredential with its
// AES-GCM-decrypted plaintext, using the teacher's crypto helpers.
func decryptCredential(s *streamreg.Stream, encKey string) error {
	const prefix = "enc:"
	if len(s.ChatCredential) < len(prefix) || s.ChatCredential[:len(prefix)] != prefix {
		return nil
	}
	if encKey == "" {
		return fmt.Errorf("chat_credential is encrypted but PIPIRC_CONFIG_KEY is not set")
	}
	plain, err := crypto.Decrypt(s.ChatCredential[len(prefix):], encKey)
	if err != nil {
		return fmt.Errorf("decrypting chat_credential: %w", err)
	}
	s.ChatCredential = plain
	return nil
}

// OperationalSettings holds the ambient, non-versioned knobs controlled by
// environment variables rather than the config file (SPEC_FULL §4.7).
type OperationalSettings struct {
	Workers         int
	RespawnInterval time.Duration
	ShutdownTimeout time.Duration
}

// LoadOperational reads ambient operational settings from the environment,
// applying defaults for anything unset.
func LoadOperational() OperationalSettings {
	return OperationalSettings{
		Workers:         getEnvAsInt("PIPIRC_WORKERS", 4),
		RespawnInterval: getEnvAsDuration("PIPIRC_RESPAWN_INTERVAL", time.Second),
		ShutdownTimeout: getEnvAsDuration("PIPIRC_SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}
