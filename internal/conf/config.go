package conf

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"billing/internal/constants"
	"billing/internal/v2/types"
	"billing/internal/v2/utils"

	vd "github.com/bytedance/go-tagexpr/v2/validator"
	"github.com/golang/glog"
	"gopkg.in/yaml.v3"
)

func init() {
	vd.SetErrorFactory(func(failPath, msg string) error {
		return fmt.Errorf(`"validation failed: %s","msg": "%s"`, failPath, msg)
	})
}

type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Polling       PollingConfig       `yaml:"polling" json:"polling"`
	StatusService StatusServiceConfig `yaml:"statusService" json:"statusService"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	NATS          NATSConfig          `yaml:"nats" json:"nats"`
	Postgres      PostgresConfig      `yaml:"postgres" json:"postgres"`
}

type ServerConfig struct {
	ListenAddress string `yaml:"listenAddress" json:"listenAddress" vd:"len($)>0;msg:sprintf('invalid parameter: %v;listenAddress must satisfy the expr: len($)>0',$)"`
}

type PollingConfig struct {
	IntervalMs      int64  `yaml:"intervalMs" json:"intervalMs" vd:"$>=0 && $<=9223372036854;msg:sprintf('invalid parameter: %v;intervalMs must satisfy the expr: $>=0 && $<=9223372036854',$)"`
	TotalTimeoutMs  int64  `yaml:"totalTimeoutMs" json:"totalTimeoutMs" vd:"$>=0 && $<=9223372036854;msg:sprintf('invalid parameter: %v;totalTimeoutMs must satisfy the expr: $>=0 && $<=9223372036854',$)"`
	RedirectSeconds int    `yaml:"redirectSeconds" json:"redirectSeconds" vd:"$>=0 && $<=60;msg:sprintf('invalid parameter: %v;redirectSeconds must satisfy the expr: $>=0 && $<=60',$)"`
	RedirectPath    string `yaml:"redirectPath" json:"redirectPath" vd:"regexp('^/');msg:sprintf('invalid parameter: %v;redirectPath must satisfy the expr: regexp(^/)',$)"`
}

// Session returns the per-session part of the polling configuration
func (p PollingConfig) Session() types.PollingConfig {
	return types.PollingConfig{IntervalMs: p.IntervalMs, TotalTimeoutMs: p.TotalTimeoutMs}
}

type StatusServiceConfig struct {
	Backend          string `yaml:"backend" json:"backend" vd:"$=='http' || $=='redis';msg:sprintf('invalid parameter: %v;backend must satisfy the expr: $==http || $==redis',$)"`
	BaseURL          string `yaml:"baseURL" json:"baseURL" vd:"-"`
	TimeoutSeconds   int    `yaml:"timeoutSeconds" json:"timeoutSeconds" vd:"$>0;msg:sprintf('invalid parameter: %v;timeoutSeconds must satisfy the expr: $>0',$)"`
	AppKey           string `yaml:"appKey" json:"appKey" vd:"-"`
	AppSecret        string `yaml:"appSecret,omitempty" json:"-" vd:"-"`
	PermissionServer string `yaml:"permissionServer" json:"permissionServer" vd:"-"`
}

func (s StatusServiceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type RedisConfig struct {
	Host     string `yaml:"host" json:"host" vd:"-"`
	Port     string `yaml:"port" json:"port" vd:"-"`
	Password string `yaml:"password,omitempty" json:"-" vd:"-"`
	DB       int    `yaml:"db" json:"db" vd:"$>=0;msg:sprintf('invalid parameter: %v;db must satisfy the expr: $>=0',$)"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type NATSConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled" vd:"-"`
	Host     string `yaml:"host" json:"host" vd:"-"`
	Port     string `yaml:"port" json:"port" vd:"-"`
	Username string `yaml:"username" json:"username" vd:"-"`
	Password string `yaml:"password,omitempty" json:"-" vd:"-"`
	Subject  string `yaml:"subject" json:"subject" vd:"len($)>0;msg:sprintf('invalid parameter: %v;subject must satisfy the expr: len($)>0',$)"`
}

type PostgresConfig struct {
	Enabled              bool   `yaml:"enabled" json:"enabled" vd:"-"`
	Host                 string `yaml:"host" json:"host" vd:"-"`
	Port                 string `yaml:"port" json:"port" vd:"-"`
	DB                   string `yaml:"db" json:"db" vd:"-"`
	User                 string `yaml:"user" json:"user" vd:"-"`
	Password             string `yaml:"password,omitempty" json:"-" vd:"-"`
	CleanupIntervalHours int    `yaml:"cleanupIntervalHours" json:"cleanupIntervalHours" vd:"$>0;msg:sprintf('invalid parameter: %v;cleanupIntervalHours must satisfy the expr: $>0',$)"`
}

func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		p.Host, p.Port, p.User, p.Password, p.DB)
}

// Default returns the configuration used when no file and no environment is given
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddress: constants.APIServerListenAddress},
		Polling: PollingConfig{
			IntervalMs:      types.DefaultPollIntervalMs,
			TotalTimeoutMs:  types.DefaultTotalTimeoutMs,
			RedirectSeconds: types.DefaultRedirectSeconds,
			RedirectPath:    types.DefaultRedirectPath,
		},
		StatusService: StatusServiceConfig{
			Backend:        constants.StatusBackendHTTP,
			BaseURL:        "http://localhost:8080",
			TimeoutSeconds: 10,
		},
		Redis: RedisConfig{Host: "localhost", Port: "6379"},
		NATS: NATSConfig{
			Enabled: true,
			Host:    "localhost",
			Port:    "4222",
			Subject: constants.DefaultNATSSubject,
		},
		Postgres: PostgresConfig{
			Host:                 "localhost",
			Port:                 "5432",
			DB:                   "billing",
			User:                 "postgres",
			CleanupIntervalHours: 24,
		},
	}
}

// Load reads defaults, then the YAML file at path (if any), then environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
			glog.Infof("loaded config from %s", path)
		case errors.Is(err, os.ErrNotExist):
			glog.Warningf("config file %s not found, using defaults and environment", path)
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := vd.Validate(c, true); err != nil {
		return err
	}
	if c.StatusService.Backend == constants.StatusBackendHTTP && c.StatusService.BaseURL == "" {
		return errors.New("statusService.baseURL is required for the http backend")
	}
	if c.StatusService.AppKey != "" && c.StatusService.PermissionServer == "" {
		return errors.New("statusService.permissionServer is required when appKey is set")
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.ListenAddress = utils.GetEnvOrDefault("BILLING_LISTEN_ADDRESS", cfg.Server.ListenAddress)

	cfg.Polling.IntervalMs = int64(utils.GetEnvIntOrDefault("PAYMENT_POLL_INTERVAL_MS", int(cfg.Polling.IntervalMs)))
	cfg.Polling.TotalTimeoutMs = int64(utils.GetEnvIntOrDefault("PAYMENT_POLL_TIMEOUT_MS", int(cfg.Polling.TotalTimeoutMs)))
	cfg.Polling.RedirectSeconds = utils.GetEnvIntOrDefault("PAYMENT_REDIRECT_SECONDS", cfg.Polling.RedirectSeconds)
	cfg.Polling.RedirectPath = utils.GetEnvOrDefault("PAYMENT_REDIRECT_PATH", cfg.Polling.RedirectPath)

	cfg.StatusService.Backend = utils.GetEnvOrDefault("PAYMENT_STATUS_BACKEND", cfg.StatusService.Backend)
	cfg.StatusService.BaseURL = utils.GetEnvOrDefault("PAYMENT_STATUS_SERVICE_URL", cfg.StatusService.BaseURL)
	cfg.StatusService.TimeoutSeconds = utils.GetEnvIntOrDefault("PAYMENT_STATUS_TIMEOUT_SECONDS", cfg.StatusService.TimeoutSeconds)
	cfg.StatusService.AppKey = utils.GetEnvOrDefault("OS_APP_KEY", cfg.StatusService.AppKey)
	cfg.StatusService.AppSecret = utils.GetEnvOrDefault("OS_APP_SECRET", cfg.StatusService.AppSecret)
	cfg.StatusService.PermissionServer = utils.GetEnvOrDefault("OS_SYSTEM_SERVER", cfg.StatusService.PermissionServer)

	cfg.Redis.Host = utils.GetEnvOrDefault("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = utils.GetEnvOrDefault("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = utils.GetEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = utils.GetEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	if utils.IsDevelopment() {
		cfg.NATS.Enabled = false
	}
	cfg.NATS.Host = utils.GetEnvOrDefault("NATS_HOST", cfg.NATS.Host)
	cfg.NATS.Port = utils.GetEnvOrDefault("NATS_PORT", cfg.NATS.Port)
	cfg.NATS.Username = utils.GetEnvOrDefault("NATS_USERNAME", cfg.NATS.Username)
	cfg.NATS.Password = utils.GetEnvOrDefault("NATS_PASSWORD", cfg.NATS.Password)
	cfg.NATS.Subject = utils.GetEnvOrDefault("NATS_SUBJECT_BILLING_PAYMENT_STATUS", cfg.NATS.Subject)

	if v, err := strconv.ParseBool(os.Getenv("POSTGRES_ENABLED")); err == nil {
		cfg.Postgres.Enabled = v
	}
	cfg.Postgres.Host = utils.GetEnvOrDefault("POSTGRES_HOST", cfg.Postgres.Host)
	cfg.Postgres.Port = utils.GetEnvOrDefault("POSTGRES_PORT", cfg.Postgres.Port)
	cfg.Postgres.DB = utils.GetEnvOrDefault("POSTGRES_DB", cfg.Postgres.DB)
	cfg.Postgres.User = utils.GetEnvOrDefault("POSTGRES_USER", cfg.Postgres.User)
	cfg.Postgres.Password = utils.GetEnvOrDefault("POSTGRES_PASSWORD", cfg.Postgres.Password)
	cfg.Postgres.CleanupIntervalHours = utils.GetEnvIntOrDefault("HISTORY_CLEANUP_INTERVAL_HOURS", cfg.Postgres.CleanupIntervalHours)
}
