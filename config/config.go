package config

import (
	"os"
	"path/filepath"
)

// AppConfig holds the process-level deployment configuration. It is read
// once at startup from environment variables (optionally seeded by a .env
// file); the per-camera runtime settings live in the settings file instead,
// see Manager.
type AppConfig struct {
	// Storage Configuration
	Root string // mount point the recorder writes into

	// Config directory: settings file, journal database, logs, lock file
	ConfigDir    string
	SettingsPath string
	DatabasePath string
	LogPath      string
	LockPath     string

	// Server Configuration
	ServerPort string

	// Archive upload (S3-compatible), optional
	ArchiveEnabled   bool
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveEndpoint  string
	ArchiveRegion    string
	ArchiveBaseURL   string
}

// LoadApp loads the deployment configuration from environment variables.
func LoadApp() AppConfig {
	configDir := getEnv("BOXCAM_CONFIG_DIR", defaultConfigDir())

	return AppConfig{
		Root:         getEnv("BOXCAM_ROOT", "/data/box"),
		ConfigDir:    configDir,
		SettingsPath: filepath.Join(configDir, "settings.env"),
		DatabasePath: filepath.Join(configDir, "boxcam.db"),
		LogPath:      filepath.Join(configDir, "boxcam.log"),
		LockPath:     filepath.Join(configDir, "boxcam.lock"),
		ServerPort:   getEnv("BOXCAM_PORT", "8080"),

		ArchiveEnabled:   getEnv("ARCHIVE_ENABLED", "false") == "true",
		ArchiveAccessKey: getEnv("ARCHIVE_ACCESS_KEY", ""),
		ArchiveSecretKey: getEnv("ARCHIVE_SECRET_KEY", ""),
		ArchiveBucket:    getEnv("ARCHIVE_BUCKET", ""),
		ArchiveEndpoint:  getEnv("ARCHIVE_ENDPOINT", ""),
		ArchiveRegion:    getEnv("ARCHIVE_REGION", "auto"),
		ArchiveBaseURL:   getEnv("ARCHIVE_BASE_URL", ""),
	}
}

// defaultConfigDir prefers /config (the container volume) and falls back to
// a local directory for bare-metal runs.
func defaultConfigDir() string {
	if info, err := os.Stat("/config"); err == nil && info.IsDir() {
		return "/config"
	}
	return "config"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
