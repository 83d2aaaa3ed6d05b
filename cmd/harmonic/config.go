package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tinytelemetry/harmonic/internal/logging"
	"github.com/tinytelemetry/harmonic/internal/model"
	"github.com/tinytelemetry/harmonic/internal/sink"
)

const (
	sinkDuckDB   = "duckdb"
	sinkPostgres = "postgres"
	sinkNATS     = "nats"
	sinkStdout   = "stdout"

	defaultPipePath       = model.DefaultPipePath
	defaultBindHost       = "127.0.0.1"
	defaultAPIPort        = 3000
	defaultQueryTimeout   = 30 * time.Second
	defaultMaxLineSize    = model.DefaultMaxLineSize
	defaultMaxReopenDelay = 5 * time.Second
	defaultBackupInterval = 6 * time.Hour
	defaultBackupKeepLast = 24
	defaultPostgresConns  = 4
)

var knownSinks = []string{sinkDuckDB, sinkPostgres, sinkNATS, sinkStdout}

// appConfig is the runtime configuration of the harmonic binary.
type appConfig struct {
	PipePath       string        `mapstructure:"pipe-path" yaml:"pipe-path"`
	RequireFIFO    bool          `mapstructure:"require-fifo" yaml:"require-fifo"`
	MaxLineSize    int           `mapstructure:"max-line-size" yaml:"max-line-size"`
	ReopenDelay    time.Duration `mapstructure:"reopen-delay" yaml:"reopen-delay"`
	MaxReopenDelay time.Duration `mapstructure:"max-reopen-delay" yaml:"max-reopen-delay"`

	LogLevel      string `mapstructure:"log-level" yaml:"log-level"`
	LogFormat     string `mapstructure:"log-format" yaml:"log-format"`
	LogFile       string `mapstructure:"log-file" yaml:"log-file"`
	LogMaxSizeMB  int    `mapstructure:"log-max-size-mb" yaml:"log-max-size-mb"`
	LogMaxBackups int    `mapstructure:"log-max-backups" yaml:"log-max-backups"`
	LogMaxAgeDays int    `mapstructure:"log-max-age-days" yaml:"log-max-age-days"`

	Sinks        []string      `mapstructure:"sinks" yaml:"sinks"`
	DBPath       string        `mapstructure:"db-path" yaml:"db-path"`
	QueryTimeout time.Duration `mapstructure:"query-timeout" yaml:"query-timeout"`

	PostgresURL      string `mapstructure:"postgres-url" yaml:"postgres-url"`
	PostgresSchema   string `mapstructure:"postgres-schema" yaml:"postgres-schema"`
	PostgresMaxConns int32  `mapstructure:"postgres-max-conns" yaml:"postgres-max-conns"`

	NATSURL           string `mapstructure:"nats-url" yaml:"nats-url"`
	NATSSubjectPrefix string `mapstructure:"nats-subject-prefix" yaml:"nats-subject-prefix"`
	NATSStream        string `mapstructure:"nats-stream" yaml:"nats-stream"`

	JournalEnabled bool   `mapstructure:"journal-enabled" yaml:"journal-enabled"`
	JournalPath    string `mapstructure:"journal-path" yaml:"journal-path"`

	Host       string `mapstructure:"host" yaml:"host"`
	APIEnabled bool   `mapstructure:"api-enabled" yaml:"api-enabled"`
	APIPort    int    `mapstructure:"api-port" yaml:"api-port"`
	APIAddr    string `mapstructure:"api-addr" yaml:"api-addr"`

	BackupEnabled        bool          `mapstructure:"backup-enabled" yaml:"backup-enabled"`
	BackupInterval       time.Duration `mapstructure:"backup-interval" yaml:"backup-interval"`
	BackupLocalDir       string        `mapstructure:"backup-local-dir" yaml:"backup-local-dir"`
	BackupKeepLast       int           `mapstructure:"backup-keep-last" yaml:"backup-keep-last"`
	BackupBucketURL      string        `mapstructure:"backup-bucket-url" yaml:"backup-bucket-url"`
	BackupS3Endpoint     string        `mapstructure:"backup-s3-endpoint" yaml:"backup-s3-endpoint"`
	BackupS3Region       string        `mapstructure:"backup-s3-region" yaml:"backup-s3-region"`
	BackupS3AccessKey    string        `mapstructure:"backup-s3-access-key" yaml:"backup-s3-access-key"`
	BackupS3SecretKey    string        `mapstructure:"backup-s3-secret-key" yaml:"backup-s3-secret-key"`
	BackupS3SessionToken string        `mapstructure:"backup-s3-session-token" yaml:"backup-s3-session-token"`
	BackupS3UseSSL       bool          `mapstructure:"backup-s3-use-ssl" yaml:"backup-s3-use-ssl"`

	ConfigPath string `mapstructure:"-" yaml:"-"`
}

// loadConfig merges defaults, the config file, HARMONIC_* environment
// variables and the positional pipe path, in increasing precedence.
func loadConfig(configPath string, args []string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".local", "share", "harmonic")

	v := viper.New()
	v.SetEnvPrefix("HARMONIC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("pipe-path", "HARMONIC_PIPE_PATH", "INGESTION_PIPE"); err != nil {
		return cfg, err
	}

	v.SetDefault("pipe-path", defaultPipePath)
	v.SetDefault("require-fifo", false)
	v.SetDefault("max-line-size", defaultMaxLineSize)
	v.SetDefault("reopen-delay", time.Duration(0))
	v.SetDefault("max-reopen-delay", defaultMaxReopenDelay)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", logging.FormatConsole)
	v.SetDefault("log-file", "")
	v.SetDefault("sinks", []string{sinkDuckDB})
	v.SetDefault("db-path", filepath.Join(dataDir, "harmonic.duckdb"))
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("postgres-max-conns", defaultPostgresConns)
	v.SetDefault("nats-subject-prefix", sink.DefaultSubjectPrefix)
	v.SetDefault("nats-stream", "")
	v.SetDefault("journal-enabled", false)
	v.SetDefault("journal-path", filepath.Join(dataDir, "ingest.journal"))
	v.SetDefault("host", defaultBindHost)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("backup-enabled", false)
	v.SetDefault("backup-interval", defaultBackupInterval)
	v.SetDefault("backup-local-dir", filepath.Join(dataDir, "backups"))
	v.SetDefault("backup-keep-last", defaultBackupKeepLast)
	v.SetDefault("backup-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "harmonic", "config.yml"))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
		cfg.ConfigPath = v.ConfigFileUsed()
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		cfg.PipePath = args[0]
	}

	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.JournalPath = expandHome(cfg.JournalPath, home)
	cfg.BackupLocalDir = expandHome(cfg.BackupLocalDir, home)
	cfg.LogFile = expandHome(cfg.LogFile, home)
	cfg.Sinks = normalizeSinks(cfg.Sinks)

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}
	return cfg, nil
}

func (c appConfig) validate() error {
	if strings.TrimSpace(c.PipePath) == "" {
		return errors.New("pipe-path is empty")
	}
	if c.MaxLineSize < 0 {
		return fmt.Errorf("invalid max-line-size: %d", c.MaxLineSize)
	}
	if c.ReopenDelay < 0 {
		return fmt.Errorf("invalid reopen-delay: %s", c.ReopenDelay)
	}
	if c.MaxReopenDelay < c.ReopenDelay {
		return fmt.Errorf("invalid max-reopen-delay: %s is less than reopen-delay %s", c.MaxReopenDelay, c.ReopenDelay)
	}
	if len(c.Sinks) == 0 {
		return errors.New("sinks: at least one sink is required")
	}
	for _, name := range c.Sinks {
		if !slices.Contains(knownSinks, name) {
			return fmt.Errorf("sinks: unknown sink %q (want one of %s)", name, strings.Join(knownSinks, ", "))
		}
	}
	if c.hasSink(sinkPostgres) && strings.TrimSpace(c.PostgresURL) == "" {
		return errors.New("postgres-url is required for the postgres sink")
	}
	if c.hasSink(sinkNATS) && strings.TrimSpace(c.NATSURL) == "" {
		return errors.New("nats-url is required for the nats sink")
	}
	if c.JournalEnabled && strings.TrimSpace(c.JournalPath) == "" {
		return errors.New("journal-path is required when the journal is enabled")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api-port: %d", c.APIPort)
	}
	if c.BackupEnabled {
		if c.BackupInterval <= 0 {
			return fmt.Errorf("invalid backup-interval: %s", c.BackupInterval)
		}
		if c.BackupKeepLast <= 0 {
			return fmt.Errorf("invalid backup-keep-last: %d", c.BackupKeepLast)
		}
		if !c.hasSink(sinkDuckDB) {
			return errors.New("backup requires the duckdb sink")
		}
	}
	return nil
}

func (c appConfig) hasSink(name string) bool {
	return slices.Contains(c.Sinks, name)
}

func (c appConfig) logConfig() logging.Config {
	return logging.Config{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAgeDays: c.LogMaxAgeDays,
	}
}

// redacted returns a copy safe to print.
func (c appConfig) redacted() appConfig {
	mask := func(s string) string {
		if s == "" {
			return s
		}
		return "********"
	}
	if u, err := url.Parse(c.PostgresURL); err == nil && u.User != nil {
		c.PostgresURL = u.Redacted()
	}
	c.BackupS3SecretKey = mask(c.BackupS3SecretKey)
	c.BackupS3SessionToken = mask(c.BackupS3SessionToken)
	return c
}

// normalizeSinks lowercases names, splits comma lists from the environment
// and drops duplicates while keeping order.
func normalizeSinks(in []string) []string {
	var out []string
	for _, item := range in {
		for _, name := range strings.Split(item, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || slices.Contains(out, name) {
				continue
			}
			out = append(out, name)
		}
	}
	return out
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
