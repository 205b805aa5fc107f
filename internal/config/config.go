// Package config loads adminsync settings.
//
// Precedence, lowest first: built-in defaults, the YAML file, ADMINSYNC_*
// environment variables, then command-line flags (applied by the CLI). The
// merged result is checked against the embedded CUE schema before use.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/health"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
	"github.com/roach88/adminsync/internal/session"
)

//go:embed config.cue
var schemaCUE []byte

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "ADMINSYNC_"

// Config is the merged configuration.
type Config struct {
	BaseURL            string        `yaml:"base_url" env:"BASE_URL" json:"base_url"`
	CollectionPath     string        `yaml:"collection_path" env:"COLLECTION_PATH" json:"collection_path"`
	StatsPath          string        `yaml:"stats_path" env:"STATS_PATH" json:"stats_path"`
	HealthPath         string        `yaml:"health_path" env:"HEALTH_PATH" json:"health_path"`
	PushURL            string        `yaml:"push_url" env:"PUSH_URL" json:"push_url"`
	PageSize           int           `yaml:"page_size" env:"PAGE_SIZE" json:"page_size"`
	Debounce           time.Duration `yaml:"debounce" env:"DEBOUNCE" json:"debounce"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" json:"request_timeout"`
	MaxAttempts        int           `yaml:"max_attempts" env:"MAX_ATTEMPTS" json:"max_attempts"`
	RetryStep          time.Duration `yaml:"retry_step" env:"RETRY_STEP" json:"retry_step"`
	HealthInterval     time.Duration `yaml:"health_interval" env:"HEALTH_INTERVAL" json:"health_interval"`
	HealthInitialDelay time.Duration `yaml:"health_initial_delay" env:"HEALTH_INITIAL_DELAY" json:"health_initial_delay"`
	PushRetryDelay     time.Duration `yaml:"push_retry_delay" env:"PUSH_RETRY_DELAY" json:"push_retry_delay"`
	PollInterval       time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL" json:"poll_interval"`
	Token              string        `yaml:"token" env:"TOKEN" json:"token"`
	TokenFile          string        `yaml:"token_file" env:"TOKEN_FILE" json:"token_file"`
	ServiceKey         string        `yaml:"service_key" env:"SERVICE_KEY" json:"service_key"`
	ServiceHeader      string        `yaml:"service_header" env:"SERVICE_HEADER" json:"service_header"`
	MetricsAddr        string        `yaml:"metrics_addr" env:"METRICS_ADDR" json:"metrics_addr"`
	// OTelEndpoint is the OTLP/HTTP collector URL. Empty disables tracing.
	OTelEndpoint string `yaml:"otel_endpoint" env:"OTEL_ENDPOINT" json:"otel_endpoint"`

	DevServer DevServer `yaml:"devserver" envPrefix:"DEVSERVER_" json:"devserver"`
}

// DevServer configures the reference backend.
type DevServer struct {
	Addr   string `yaml:"addr" env:"ADDR" json:"addr"`
	DSN    string `yaml:"dsn" env:"DSN" json:"dsn"`
	Secret string `yaml:"secret" env:"SECRET" json:"secret"`
	Seed   int    `yaml:"seed" env:"SEED" json:"seed"`
}

// Default returns the reference settings.
func Default() Config {
	return Config{
		BaseURL:            "http://localhost:8080",
		CollectionPath:     adminapi.DefaultCollectionPath,
		StatsPath:          adminapi.DefaultStatsPath,
		HealthPath:         adminapi.DefaultHealthPath,
		PageSize:           query.DefaultPageSize,
		Debounce:           time.Second,
		RequestTimeout:     adminapi.DefaultTimeout,
		MaxAttempts:        adminapi.DefaultMaxAttempts,
		RetryStep:          adminapi.DefaultRetryStep,
		HealthInterval:     health.DefaultInterval,
		HealthInitialDelay: health.DefaultInitialDelay,
		PushRetryDelay:     pushchannel.DefaultRetryDelay,
		PollInterval:       30 * time.Second,
		ServiceHeader:      adminapi.DefaultServiceHeader,
		DevServer: DevServer{
			Addr: ":8080",
			DSN:  "adminsync-dev.db",
			Seed: 200,
		},
	}
}

// Load reads path (optional) and the process environment.
func Load(path string) (Config, error) {
	return LoadWith(path, nil)
}

// LoadWith is Load with an explicit environment; nil means the process
// environment.
func LoadWith(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaCUE, cue.Filename("config.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// Credentials builds the session collaborator: a watched token file when
// token_file is set, otherwise the static token.
func (c Config) Credentials(logger *slog.Logger) (session.Credentials, *session.FileCredentials, error) {
	if c.TokenFile != "" {
		fc, err := session.NewFileCredentials(c.TokenFile, c.ServiceKey, logger)
		if err != nil {
			return nil, nil, err
		}
		return fc, fc, nil
	}
	return session.NewStatic(c.Token, c.ServiceKey), nil, nil
}
