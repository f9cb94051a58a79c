package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables overriding the signing settings.
const (
	EnvKeyStore      = "APK_PATCHER_KEYSTORE"
	EnvStorePassword = "APK_PATCHER_STORE_PASSWORD"
	EnvKeyAlias      = "APK_PATCHER_KEY_ALIAS"
	EnvKeyPassword   = "APK_PATCHER_KEY_PASSWORD"
)

// DefaultEnvFile is loaded by ApplyEnv when it exists.
const DefaultEnvFile = ".env"

// ApplyEnv loads envFile (variables already set win) and copies the signing
// overrides into cfg. A missing envFile is not an error.
func ApplyEnv(cfg *Config, envFile string) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if envFile == "" {
		envFile = DefaultEnvFile
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	overrides := []struct {
		name   string
		target *string
	}{
		{EnvKeyStore, &cfg.Signing.KeyStore},
		{EnvStorePassword, &cfg.Signing.StorePassword},
		{EnvKeyAlias, &cfg.Signing.Alias},
		{EnvKeyPassword, &cfg.Signing.KeyPassword},
	}

	for _, o := range overrides {
		if value, ok := os.LookupEnv(o.name); ok && value != "" {
			*o.target = value
		}
	}

	return nil
}
