package config

import (
	"fmt"
	"os"
)

// MissingSecretError reports an unset environment variable that a configured
// feature requires.
type MissingSecretError struct {
	EnvVar  string
	Context string
}

func (e *MissingSecretError) Error() string {
	return fmt.Sprintf("missing secret: environment variable %q not set (%s)", e.EnvVar, e.Context)
}

// ResolveJWTSecret reads the JWT secret from the env var named in the
// config. Returns ("", nil) when auth is unconfigured (no env var name),
// and a MissingSecretError when the name is configured but the var is
// unset or empty.
func (a *AuthConfig) ResolveJWTSecret() (string, error) {
	if a.JWTSecretEnv == "" {
		return "", nil
	}
	secret := os.Getenv(a.JWTSecretEnv)
	if secret == "" {
		return "", &MissingSecretError{EnvVar: a.JWTSecretEnv, Context: "JWT secret key"}
	}
	return secret, nil
}

// ResolveURL reads the Postgres connection URL from the env var named in
// the config. Returns ("", nil) when persistence is unconfigured.
func (p *PostgresConfig) ResolveURL() (string, error) {
	if p.URLEnv == "" {
		return "", nil
	}
	url := os.Getenv(p.URLEnv)
	if url == "" {
		return "", &MissingSecretError{EnvVar: p.URLEnv, Context: "PostgreSQL connection URL"}
	}
	return url, nil
}
