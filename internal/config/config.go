package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. TIRA_RUNS_ROOT.
const EnvPrefix = "TIRA"

// Configuration keys. Command-line flags use the same names with dashes.
const (
	KeyListenAddr         = "listen_addr"
	KeyLogLevel           = "log_level"
	KeyRunsRoot           = "runs_root"
	KeySoftwaresStateDir  = "softwares_state_dir"
	KeyVMStateDir         = "vm_state_dir"
	KeySupervisorConfDir  = "supervisor_conf_dir"
	KeySupervisorLogDir   = "supervisor_log_dir"
	KeyHostUser           = "host_user"
	KeyCatalogPath        = "catalog_path"
	KeyJournalPath        = "journal_path"
	KeyTextCacheBytes     = "text_cache_bytes"
	KeyRecordCacheEntries = "record_cache_entries"
	KeyOutputTailBytes    = "output_tail_bytes"
)

var defaults = map[string]any{
	KeyListenAddr:         ":8080",
	KeyLogLevel:           "info",
	KeyRunsRoot:           "/mnt/nfs/tira/data/runs",
	KeySoftwaresStateDir:  "/mnt/nfs/tira/state/softwares",
	KeyVMStateDir:         "/mnt/nfs/tira/state/virtual-machines",
	KeySupervisorConfDir:  "/etc/supervisor/conf.d/tira",
	KeySupervisorLogDir:   "/var/log/supervisor/tira",
	KeyHostUser:           "tira",
	KeyCatalogPath:        "model.yml",
	KeyJournalPath:        "tirad.db",
	KeyTextCacheBytes:     int64(1 << 30),
	KeyRecordCacheEntries: 10000,
	KeyOutputTailBytes:    int64(1 << 20),
}

// Config holds application configuration.
type Config struct {
	ListenAddr string
	LogLevel   slog.Level

	RunsRoot          string
	SoftwaresStateDir string
	VMStateDir        string
	SupervisorConfDir string
	SupervisorLogDir  string

	// HostUser runs the tira host tool and supervised jobs.
	HostUser string

	CatalogPath string
	JournalPath string

	TextCacheBytes     int64
	RecordCacheEntries int
	OutputTailBytes    int64
}

// Keys returns every configuration key, sorted as declared.
func Keys() []string {
	return []string{
		KeyListenAddr, KeyLogLevel, KeyRunsRoot, KeySoftwaresStateDir, KeyVMStateDir,
		KeySupervisorConfDir, KeySupervisorLogDir, KeyHostUser, KeyCatalogPath,
		KeyJournalPath, KeyTextCacheBytes, KeyRecordCacheEntries, KeyOutputTailBytes,
	}
}

// Default returns the default value of key.
func Default(key string) any {
	return defaults[key]
}

// Setup installs defaults and environment lookup on v. Flags bound to v
// after Setup take precedence over the environment.
func Setup(v *viper.Viper) {
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from v. Setup must have been called on v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:         v.GetString(KeyListenAddr),
		LogLevel:           parseLogLevel(v.GetString(KeyLogLevel)),
		RunsRoot:           v.GetString(KeyRunsRoot),
		SoftwaresStateDir:  v.GetString(KeySoftwaresStateDir),
		VMStateDir:         v.GetString(KeyVMStateDir),
		SupervisorConfDir:  v.GetString(KeySupervisorConfDir),
		SupervisorLogDir:   v.GetString(KeySupervisorLogDir),
		HostUser:           v.GetString(KeyHostUser),
		CatalogPath:        v.GetString(KeyCatalogPath),
		JournalPath:        v.GetString(KeyJournalPath),
		TextCacheBytes:     v.GetInt64(KeyTextCacheBytes),
		RecordCacheEntries: v.GetInt(KeyRecordCacheEntries),
		OutputTailBytes:    v.GetInt64(KeyOutputTailBytes),
	}

	for _, p := range []struct {
		key string
		val string
	}{
		{KeyRunsRoot, cfg.RunsRoot},
		{KeySupervisorConfDir, cfg.SupervisorConfDir},
		{KeySupervisorLogDir, cfg.SupervisorLogDir},
		{KeyHostUser, cfg.HostUser},
	} {
		if p.val == "" {
			return Config{}, fmt.Errorf("config: %s must not be empty", p.key)
		}
	}
	if cfg.TextCacheBytes <= 0 || cfg.RecordCacheEntries <= 0 || cfg.OutputTailBytes <= 0 {
		return Config{}, fmt.Errorf("config: %s, %s and %s must be positive",
			KeyTextCacheBytes, KeyRecordCacheEntries, KeyOutputTailBytes)
	}
	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
