package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Slach/calendar-sync/pkg/models"
)

// Row sources.
const (
	SourceHTTP       = "http"
	SourceClickHouse = "clickhouse"
)

// Context is a ClickHouse connection.
type Context struct {
	Name      string `yaml:"name" mapstructure:"name"`
	Host      string `yaml:"host" mapstructure:"host"`
	Port      int    `yaml:"port" mapstructure:"port"`
	Database  string `yaml:"database" mapstructure:"database"`
	Username  string `yaml:"username" mapstructure:"username"`
	Password  string `yaml:"password" mapstructure:"password"`
	Protocol  string `yaml:"protocol" mapstructure:"protocol"` // http or native
	Secure    bool   `yaml:"secure" mapstructure:"secure"`
	TLSVerify bool   `yaml:"tls_verify" mapstructure:"tls_verify"`
	TLSCert   string `yaml:"tls_cert" mapstructure:"tls_cert"`
	TLSKey    string `yaml:"tls_key" mapstructure:"tls_key"`
	TLSCa     string `yaml:"tls_ca" mapstructure:"tls_ca"`
	// Table holds the rows of the calendar: id, row_date and a JSON payload.
	Table string `yaml:"table" mapstructure:"table"`
}

type APIConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	Token        string        `yaml:"token" mapstructure:"token"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
}

type CalendarConfig struct {
	ViewID      int64                 `yaml:"view_id" mapstructure:"view_id"`
	TableID     int64                 `yaml:"table_id" mapstructure:"table_id"`
	DateFieldID int64                 `yaml:"date_field_id" mapstructure:"date_field_id"`
	BufferSize  int                   `yaml:"buffer_size" mapstructure:"buffer_size"`
	TimeZone    string                `yaml:"timezone" mapstructure:"timezone"`
	Source      string                `yaml:"source" mapstructure:"source"`
	Context     string                `yaml:"context" mapstructure:"context"`
	Fields      []models.Field        `yaml:"fields" mapstructure:"fields"`
	Filters     models.ViewFilterSpec `yaml:"filters" mapstructure:"filters"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

type Config struct {
	Calendar CalendarConfig `yaml:"calendar" mapstructure:"calendar"`
	API      APIConfig      `yaml:"api" mapstructure:"api"`
	Contexts []Context      `yaml:"contexts" mapstructure:"contexts"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

func DefaultConfig() *Config {
	return &Config{
		Calendar: CalendarConfig{
			BufferSize: 10,
			Source:     SourceHTTP,
			Filters:    models.ViewFilterSpec{Type: models.FilterAnd},
		},
		API: APIConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      30 * time.Second,
			MaxRetries:   3,
			RetryBackoff: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	if c.Calendar.BufferSize <= 0 {
		return errors.Errorf("calendar.buffer_size must be positive, got %d", c.Calendar.BufferSize)
	}
	if c.API.MaxRetries < 0 {
		return errors.Errorf("api.max_retries must not be negative, got %d", c.API.MaxRetries)
	}
	switch c.Calendar.Source {
	case SourceHTTP:
		if strings.TrimSpace(c.API.BaseURL) == "" {
			return errors.New("api.base_url is required for the http source")
		}
	case SourceClickHouse:
		if _, err := c.FindContext(c.Calendar.Context); err != nil {
			return err
		}
	default:
		return errors.Errorf("unknown calendar.source %q", c.Calendar.Source)
	}
	return nil
}

// FindContext returns the named ClickHouse context, or the only one when name
// is empty.
func (c *Config) FindContext(name string) (Context, error) {
	if name == "" && len(c.Contexts) == 1 {
		return c.Contexts[0], nil
	}
	for _, ctx := range c.Contexts {
		if ctx.Name == name {
			return ctx, nil
		}
	}
	return Context{}, errors.Errorf("clickhouse context %q not found", name)
}

// DateField returns the configured date field.
func (c *Config) DateField() (models.Field, bool) {
	return models.FindField(c.Calendar.Fields, c.Calendar.DateFieldID)
}

// WriteDefault writes the default configuration as YAML.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return errors.Wrap(err, "marshal default config")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}

// Load reads the configuration from path, environment and defaults.
func Load(path string) (*Config, error) {
	l := NewLoader()
	l.SetConfigFile(path)
	return l.Load()
}
