package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandPath expands a leading ~ and environment variables in a file path.
// XDG_DATA_HOME falls back to ~/.local/share when unset, so the default
// database location works on systems that do not export it.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}

	return os.Expand(path, lookupPathVar)
}

func lookupPathVar(name string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}

	switch name {
	case "XDG_DATA_HOME":
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".local", "share")
		}
	case "HOME":
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return ""
}
