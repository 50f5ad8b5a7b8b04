package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Chrome    ChromeConfig    `yaml:"chrome"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Replay    ReplayConfig    `yaml:"replay"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         string        `yaml:"port"`
	Mode         string        `yaml:"mode"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	// WriteTimeout of zero leaves long-lived replies (websockets, waited
	// playbacks) unbounded.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ChromeConfig struct {
	// RemoteURL attaches to a running browser, e.g. ws://127.0.0.1:9222.
	RemoteURL    string `yaml:"remote_url"`
	ExecPath     string `yaml:"exec_path"`
	HeadlessMode bool   `yaml:"headless"`
	UserDataDir  string `yaml:"user_data_dir"`
	Device       string `yaml:"device"`
}

type StorageConfig struct {
	// Driver is one of file, mysql or memory.
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Charset  string `yaml:"charset"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Secret     string        `yaml:"secret"`
	ExpireTime time.Duration `yaml:"expire_time"`
}

type ReplayConfig struct {
	// RetryCount of zero means a single resolution attempt.
	RetryCount    int           `yaml:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	MinDelay      time.Duration `yaml:"min_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
}

type RecorderConfig struct {
	ScrollThrottle time.Duration `yaml:"scroll_throttle"`
	// NotifyURL receives recording started/stopped events when set.
	NotifyURL string `yaml:"notify_url"`
}

type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        "8080",
			Mode:        "release",
			ReadTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{Driver: "file", Dir: "data"},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     "3306",
			Username: "root",
			Database: "flowcraft",
			Charset:  "utf8mb4",
		},
		Auth: AuthConfig{ExpireTime: 24 * time.Hour},
		Replay: ReplayConfig{
			RetryCount:    6,
			RetryInterval: time.Second,
			SettleDelay:   time.Second,
			MinDelay:      100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
		},
		Recorder:  RecorderConfig{ScrollThrottle: 100 * time.Millisecond},
		Scheduler: SchedulerConfig{Enabled: true},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// envConfig mirrors the settings that can be overridden from the
// environment. Unset variables leave the pointers nil.
type envConfig struct {
	Host           *string        `envconfig:"FLOWCRAFT_HOST"`
	Port           *string        `envconfig:"FLOWCRAFT_PORT"`
	Mode           *string        `envconfig:"FLOWCRAFT_MODE"`
	ChromeURL      *string        `envconfig:"FLOWCRAFT_CHROME_URL"`
	ChromePath     *string        `envconfig:"FLOWCRAFT_CHROME_PATH"`
	Headless       *bool          `envconfig:"FLOWCRAFT_CHROME_HEADLESS"`
	Device         *string        `envconfig:"FLOWCRAFT_CHROME_DEVICE"`
	StorageDriver  *string        `envconfig:"FLOWCRAFT_STORAGE_DRIVER"`
	StorageDir     *string        `envconfig:"FLOWCRAFT_STORAGE_DIR"`
	DBHost         *string        `envconfig:"FLOWCRAFT_DB_HOST"`
	DBPort         *string        `envconfig:"FLOWCRAFT_DB_PORT"`
	DBUsername     *string        `envconfig:"FLOWCRAFT_DB_USERNAME"`
	DBPassword     *string        `envconfig:"FLOWCRAFT_DB_PASSWORD"`
	DBName         *string        `envconfig:"FLOWCRAFT_DB_NAME"`
	AuthEnabled    *bool          `envconfig:"FLOWCRAFT_AUTH_ENABLED"`
	JWTSecret      *string        `envconfig:"FLOWCRAFT_JWT_SECRET"`
	RetryCount     *int           `envconfig:"FLOWCRAFT_REPLAY_RETRY_COUNT"`
	RetryInterval  *time.Duration `envconfig:"FLOWCRAFT_REPLAY_RETRY_INTERVAL"`
	NotifyURL      *string        `envconfig:"FLOWCRAFT_NOTIFY_URL"`
	SchedulerOn    *bool          `envconfig:"FLOWCRAFT_SCHEDULER_ENABLED"`
	LogLevel       *string        `envconfig:"FLOWCRAFT_LOG_LEVEL"`
	LogFormat      *string        `envconfig:"FLOWCRAFT_LOG_FORMAT"`
	ScrollThrottle *time.Duration `envconfig:"FLOWCRAFT_SCROLL_THROTTLE"`
}

// Load layers defaults, the YAML file at path (if any) and the environment.
// lookup defaults to os.LookupEnv.
func Load(fs afero.Fs, path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var env envConfig
	if err := envconfig.Process("", &env, lookup); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	env.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func (e envConfig) apply(cfg *Config) {
	setString(&cfg.Server.Host, e.Host)
	setString(&cfg.Server.Port, e.Port)
	setString(&cfg.Server.Mode, e.Mode)
	setString(&cfg.Chrome.RemoteURL, e.ChromeURL)
	setString(&cfg.Chrome.ExecPath, e.ChromePath)
	setString(&cfg.Chrome.Device, e.Device)
	setString(&cfg.Storage.Driver, e.StorageDriver)
	setString(&cfg.Storage.Dir, e.StorageDir)
	setString(&cfg.Database.Host, e.DBHost)
	setString(&cfg.Database.Port, e.DBPort)
	setString(&cfg.Database.Username, e.DBUsername)
	setString(&cfg.Database.Password, e.DBPassword)
	setString(&cfg.Database.Database, e.DBName)
	setString(&cfg.Auth.Secret, e.JWTSecret)
	setString(&cfg.Recorder.NotifyURL, e.NotifyURL)
	setString(&cfg.Log.Level, e.LogLevel)
	setString(&cfg.Log.Format, e.LogFormat)
	if e.Headless != nil {
		cfg.Chrome.HeadlessMode = *e.Headless
	}
	if e.AuthEnabled != nil {
		cfg.Auth.Enabled = *e.AuthEnabled
	}
	if e.SchedulerOn != nil {
		cfg.Scheduler.Enabled = *e.SchedulerOn
	}
	if e.RetryCount != nil {
		cfg.Replay.RetryCount = *e.RetryCount
	}
	if e.RetryInterval != nil {
		cfg.Replay.RetryInterval = *e.RetryInterval
	}
	if e.ScrollThrottle != nil {
		cfg.Recorder.ScrollThrottle = *e.ScrollThrottle
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "file", "mysql", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Auth.Enabled && c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth is enabled but no JWT secret is set"))
	}
	if c.Replay.RetryCount < 0 {
		errs = append(errs, errors.New("replay retry_count must not be negative"))
	}
	if c.Replay.MaxDelay < c.Replay.MinDelay {
		errs = append(errs, errors.New("replay max_delay is below min_delay"))
	}
	return errors.Join(errs...)
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=%s&parseTime=True&loc=Local",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.Charset,
	)
}
