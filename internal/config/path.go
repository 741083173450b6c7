package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// PathEnv names a config file in place of the XDG default.
const PathEnv = EnvPrefix + "_CONFIG"

// ResolvePath picks the config.jsonc location: --config, then $PYRONOTES_CONFIG,
// then $XDG_CONFIG_HOME/pyronotes, then ~/.config/pyronotes. A leading ~ in an
// explicit or env path expands to the user's home.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(PathEnv)} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return expandHome(candidate)
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "pyronotes", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}

	return filepath.Join(home, ".config", "pyronotes", "config.jsonc"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for " + path)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
