// Package config loads the process-wide configuration bundle.
//
// Configuration is environment-only (TASKD_* variables). The bundle is
// populated once at startup and passed down by injection; nothing reads the
// environment after Load returns.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/richardbennett100/mcp-task-manager-server-sub002/internal/types"
)

// Config is the immutable startup configuration.
type Config struct {
	DBHost     string // TASKD_DB_HOST
	DBPort     int    // TASKD_DB_PORT
	DBUser     string // TASKD_DB_USER
	DBPassword string // TASKD_DB_PASSWORD
	DBName     string // TASKD_DB_NAME
	SocketPath string // TASKD_SOCKET
}

// Load reads the TASKD_* environment into a Config, applying defaults for
// anything unset.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TASKD")
	v.AutomaticEnv()

	v.SetDefault("db_host", "127.0.0.1")
	v.SetDefault("db_port", 3306)
	v.SetDefault("db_user", "root")
	v.SetDefault("db_password", "")
	v.SetDefault("db_name", "task_manager")
	v.SetDefault("socket", DefaultSocketPath())

	cfg := &Config{
		DBHost:     v.GetString("db_host"),
		DBPort:     v.GetInt("db_port"),
		DBUser:     v.GetString("db_user"),
		DBPassword: v.GetString("db_password"),
		DBName:     v.GetString("db_name"),
		SocketPath: v.GetString("socket"),
	}

	if cfg.DBHost == "" {
		return nil, types.NewValidationError("TASKD_DB_HOST must not be empty")
	}
	if cfg.DBPort <= 0 || cfg.DBPort > 65535 {
		return nil, types.NewValidationError("TASKD_DB_PORT out of range: %d", cfg.DBPort)
	}
	if cfg.DBUser == "" {
		return nil, types.NewValidationError("TASKD_DB_USER must not be empty")
	}
	if cfg.DBName == "" {
		return nil, types.NewValidationError("TASKD_DB_NAME must not be empty")
	}
	return cfg, nil
}

// DefaultSocketPath returns the default RPC socket location.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "taskd.sock")
	}
	return filepath.Join(os.TempDir(), "taskd.sock")
}
