package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CALSYNC_API_TOKEN.
const EnvPrefix = "CALSYNC"

var envKeys = []string{
	"calendar.view_id",
	"calendar.table_id",
	"calendar.date_field_id",
	"calendar.buffer_size",
	"calendar.timezone",
	"calendar.source",
	"calendar.context",
	"api.base_url",
	"api.token",
	"api.timeout",
	"api.max_retries",
	"api.retry_backoff",
	"logging.level",
	"logging.file",
}

// Loader resolves configuration with precedence defaults < file < env.
type Loader struct {
	v          *viper.Viper
	configFile string
}

func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setup(cfg)

	if err := l.readConfigFile(); err != nil {
		return nil, errors.Wrap(err, "load config file")
	}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshal config")
	}
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	for i := range cfg.Contexts {
		cfg.Contexts[i].TLSCa = expandTilde(cfg.Contexts[i].TLSCa)
		cfg.Contexts[i].TLSCert = expandTilde(cfg.Contexts[i].TLSCert)
		cfg.Contexts[i].TLSKey = expandTilde(cfg.Contexts[i].TLSKey)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

// ConfigFileUsed returns the file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) setup(cfg *Config) {
	v := l.v
	v.SetConfigName("calendar-sync")
	v.SetConfigType("yaml")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		v.AddConfigPath(filepath.Join(xdg, "calendar-sync"))
	}
	if home, _ := os.UserHomeDir(); home != "" {
		v.AddConfigPath(filepath.Join(home, ".config", "calendar-sync"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("calendar.buffer_size", cfg.Calendar.BufferSize)
	v.SetDefault("calendar.source", cfg.Calendar.Source)
	v.SetDefault("calendar.filters.type", string(cfg.Calendar.Filters.Type))
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.max_retries", cfg.API.MaxRetries)
	v.SetDefault("api.retry_backoff", cfg.API.RetryBackoff)
	v.SetDefault("logging.level", cfg.Logging.Level)

	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
}

func (l *Loader) readConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
