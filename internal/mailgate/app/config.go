package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Values come from an
// optional YAML file and are overridden by environment variables.
type Config struct {
	Env       string
	LogLevel  string
	LogFormat string

	Port                int
	ShutdownGracePeriod time.Duration

	DatabaseFile  string
	PepperFile    string
	MasterKeyPath string

	BootstrapToken     string
	TokenSigningSecret string
	TokenIssuer        string
	TokenTTL           time.Duration
	GateCacheTTL       time.Duration

	MailProvider  string // memory or ses
	DefaultSender string
	SESRegion     string
	SESAccessKey  string
	SESSecretKey  string

	HousekeepingInterval time.Duration
	AuditRetention       time.Duration
	InactiveRetention    time.Duration
}

type fileConfig struct {
	Env       string `yaml:"env"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Port                int    `yaml:"port"`
	ShutdownGracePeriod string `yaml:"shutdown_grace_period"`

	DatabaseFile  string `yaml:"database_file"`
	PepperFile    string `yaml:"pepper_file"`
	MasterKeyPath string `yaml:"master_key_path"`

	BootstrapToken     string `yaml:"bootstrap_token"`
	TokenSigningSecret string `yaml:"token_signing_secret"`
	TokenIssuer        string `yaml:"token_issuer"`
	TokenTTL           string `yaml:"token_ttl"`
	GateCacheTTL       string `yaml:"gate_cache_ttl"`

	Mail struct {
		Provider      string `yaml:"provider"`
		DefaultSender string `yaml:"default_sender"`
		SES           struct {
			Region    string `yaml:"region"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
		} `yaml:"ses"`
	} `yaml:"mail"`

	Housekeeping struct {
		Interval          string `yaml:"interval"`
		AuditRetention    string `yaml:"audit_retention"`
		InactiveRetention string `yaml:"inactive_retention"`
	} `yaml:"housekeeping"`
}

func defaultConfig() Config {
	return Config{
		Env:                  "dev",
		LogLevel:             "info",
		LogFormat:            "json",
		Port:                 8080,
		ShutdownGracePeriod:  10 * time.Second,
		DatabaseFile:         "mailgate.db",
		PepperFile:           "pepper",
		TokenIssuer:          "mailgate",
		TokenTTL:             30 * time.Minute,
		GateCacheTTL:         3 * time.Second,
		MailProvider:         "memory",
		DefaultSender:        "noreply@localhost",
		HousekeepingInterval: time.Hour,
		AuditRetention:       90 * 24 * time.Hour,
		InactiveRetention:    30 * 24 * time.Hour,
	}
}

// LoadConfig builds the configuration. path may be empty, in which
// case only defaults and environment variables apply.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)

	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setString(&cfg.Env, fc.Env)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)
	if fc.Port > 0 {
		cfg.Port = fc.Port
	}
	setDuration(&cfg.ShutdownGracePeriod, fc.ShutdownGracePeriod)
	setString(&cfg.DatabaseFile, fc.DatabaseFile)
	setString(&cfg.PepperFile, fc.PepperFile)
	setString(&cfg.MasterKeyPath, fc.MasterKeyPath)
	setString(&cfg.BootstrapToken, fc.BootstrapToken)
	setString(&cfg.TokenSigningSecret, fc.TokenSigningSecret)
	setString(&cfg.TokenIssuer, fc.TokenIssuer)
	setDuration(&cfg.TokenTTL, fc.TokenTTL)
	setDuration(&cfg.GateCacheTTL, fc.GateCacheTTL)
	setString(&cfg.MailProvider, fc.Mail.Provider)
	setString(&cfg.DefaultSender, fc.Mail.DefaultSender)
	setString(&cfg.SESRegion, fc.Mail.SES.Region)
	setString(&cfg.SESAccessKey, fc.Mail.SES.AccessKey)
	setString(&cfg.SESSecretKey, fc.Mail.SES.SecretKey)
	setDuration(&cfg.HousekeepingInterval, fc.Housekeeping.Interval)
	setDuration(&cfg.AuditRetention, fc.Housekeeping.AuditRetention)
	setDuration(&cfg.InactiveRetention, fc.Housekeeping.InactiveRetention)

	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Env, os.Getenv("ENV"))
	setString(&cfg.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&cfg.LogFormat, os.Getenv("LOG_FORMAT"))
	setInt(&cfg.Port, os.Getenv("PORT"))
	setDuration(&cfg.ShutdownGracePeriod, os.Getenv("SHUTDOWN_GRACE_PERIOD"))
	setString(&cfg.DatabaseFile, os.Getenv("MAILGATE_DATABASE_FILE"))
	setString(&cfg.PepperFile, os.Getenv("MAILGATE_PEPPER_FILE"))
	setString(&cfg.MasterKeyPath, os.Getenv("MAILGATE_MASTER_KEY_PATH"))
	setString(&cfg.BootstrapToken, os.Getenv("BOOTSTRAP_TOKEN"))
	setString(&cfg.TokenSigningSecret, os.Getenv("MAILGATE_TOKEN_SECRET"))
	setString(&cfg.TokenIssuer, os.Getenv("MAILGATE_TOKEN_ISSUER"))
	setDuration(&cfg.TokenTTL, os.Getenv("MAILGATE_TOKEN_TTL"))
	setDuration(&cfg.GateCacheTTL, os.Getenv("GATE_CACHE_TTL"))
	setString(&cfg.MailProvider, os.Getenv("MAIL_PROVIDER"))
	setString(&cfg.DefaultSender, os.Getenv("MAIL_DEFAULT_SENDER"))
	setString(&cfg.SESRegion, os.Getenv("AWS_REGION"))
	setString(&cfg.SESAccessKey, os.Getenv("AWS_ACCESS_KEY_ID"))
	setString(&cfg.SESSecretKey, os.Getenv("AWS_SECRET_ACCESS_KEY"))
	setDuration(&cfg.HousekeepingInterval, os.Getenv("HOUSEKEEPING_INTERVAL"))
	setDuration(&cfg.AuditRetention, os.Getenv("AUDIT_RETENTION"))
	setDuration(&cfg.InactiveRetention, os.Getenv("INACTIVE_RETENTION"))
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setInt(dst *int, value string) {
	if value == "" {
		return
	}
	if n, err := strconv.Atoi(value); err == nil && n > 0 {
		*dst = n
	}
}

func setDuration(dst *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		*dst = d
	}
}
