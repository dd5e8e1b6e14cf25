package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// Keys written to the env file.
const (
	EnvClientID     = "SPOTIFY_CLIENT_ID"
	EnvClientSecret = "SPOTIFY_SECRET_ID"
	EnvRefreshToken = "SPOTIFY_REFRESH_TOKEN"
)

// WriteEnvFile overwrites path with exactly three KEY=VALUE lines.
// Values are written verbatim; an existing file is replaced without backup.
func WriteEnvFile(path string, creds Credentials, refreshToken string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s\n", EnvClientID, creds.ClientID)
	fmt.Fprintf(&b, "%s=%s\n", EnvClientSecret, creds.ClientSecret)
	fmt.Fprintf(&b, "%s=%s\n", EnvRefreshToken, refreshToken)

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create env dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// ReadEnvFile loads previously saved credentials from path. A missing file
// yields empty credentials and no error.
func ReadEnvFile(path string) (Credentials, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, nil
		}
		return Credentials{}, fmt.Errorf("read env file: %w", err)
	}
	return Credentials{
		ClientID:     values[EnvClientID],
		ClientSecret: values[EnvClientSecret],
	}, nil
}
