package session

import (
	"os"

	"github.com/feather-im/feather/internal/config"
)

// DefaultSessionName is used when nothing else names a session.
const DefaultSessionName = "main"

// EnvSession overrides the configured default session when set.
const EnvSession = "FEATHER_SESSION"

// Resolve picks the active session name. Precedence: the --session flag,
// $FEATHER_SESSION, default_session in config.toml, then "main".
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv(EnvSession); env != "" {
		return env
	}
	if cfg, err := config.Load(ConfigPath()); err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}
