package app

import (
	"os"
	"path/filepath"
	"runtime"
)

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	// ServerURL is the ws:// or wss:// endpoint of the backend's STOMP
	// handler. The REST base URL is derived from it unless HTTPBase is set.
	ServerURL string
	HTTPBase  string
	LoginID   string
	DBPath    string
	LogPath   string
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("STOMPCHAT_DB_PATH"); env != "" {
		return env
	}
	if env := os.Getenv("STOMPCHAT_DATA_DIR"); env != "" {
		return filepath.Join(env, "stompchat.db")
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "stompchat", "stompchat.db")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Stompchat", "stompchat.db")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Stompchat", "stompchat.db")
		}
		return filepath.Join(home, ".local", "share", "stompchat", "stompchat.db")
	}
	return filepath.Join(".", ".stompchat", "stompchat.db")
}

// DefaultLogPath returns the log file location. The TUI owns the terminal, so
// logs go to a file instead of stderr.
func DefaultLogPath() string {
	if env := os.Getenv("STOMPCHAT_LOG_PATH"); env != "" {
		return env
	}
	return filepath.Join(filepath.Dir(DefaultDBPath()), "stompchat.log")
}
