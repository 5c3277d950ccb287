package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr string `yaml:"addr"`
	// release|debug|test, passed to gin.SetMode
	Mode string `yaml:"mode"`

	DBDriver string `yaml:"db_driver"`
	DBDSN    string `yaml:"db_dsn"`

	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`

	// Allowed CORS and WebSocket origins. "*" allows any.
	FrontendURLs []string `yaml:"frontend_urls"`

	// Empty RedisAddr keeps room fan-out in-process.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisChannel  string `yaml:"redis_channel"`

	// Empty RabbitURL disables the message-event outbox.
	RabbitURL   string `yaml:"rabbit_url"`
	RabbitQueue string `yaml:"rabbit_queue"`

	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	SMTPUser string `yaml:"smtp_user"`
	SMTPPass string `yaml:"smtp_pass"`
	SMTPFrom string `yaml:"smtp_from"`

	WS WSConfig `yaml:"ws"`

	WorkerConcurrency int `yaml:"worker_concurrency"`
}

type WSConfig struct {
	SendBuffer      int     `yaml:"send_buffer"`
	MaxMessageBytes int64   `yaml:"max_message_bytes"`
	RateBurst       int     `yaml:"rate_burst"`
	RatePerSecond   float64 `yaml:"rate_per_second"`
}

func Default() Config {
	return Config{
		Addr:     ":3001",
		Mode:     "debug",
		DBDriver: "mysql",
		// DSN demo：
		// app:apppass@tcp(127.0.0.1:3306)/gopherchat?charset=utf8mb4&parseTime=true&loc=Local
		DBDSN: fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "gopherchat",
		),
		JWTSecret:    "dev-secret-change-me",
		JWTExpiry:    7 * 24 * time.Hour,
		FrontendURLs: []string{"http://localhost:3000"},
		RedisChannel: "gopherchat:rooms",
		RabbitQueue:  "message_events",
		SMTPPort:     587,
		WS: WSConfig{
			SendBuffer:      256,
			MaxMessageBytes: 64 * 1024,
			RateBurst:       20,
			RatePerSecond:   10,
		},
		WorkerConcurrency: 2,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path and then the environment. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if cfg.SMTPFrom == "" {
		cfg.SMTPFrom = cfg.SMTPUser
	}
	return cfg, nil
}

// FromArgs parses --config and --addr, loads the configuration and applies
// flag overrides last. CHAT_CONFIG names the file when --config is absent.
func FromArgs(name string, args []string) (Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	path := fs.String("config", os.Getenv("CHAT_CONFIG"), "path to YAML config file")
	addr := fs.String("addr", "", "listen address, overrides APP_ADDR")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg, err := Load(*path)
	if err != nil {
		return Config{}, err
	}
	if fs.Changed("addr") {
		cfg.Addr = *addr
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER=%q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Mode == "release" && c.JWTSecret == Default().JWTSecret {
		return errors.New("JWT_SECRET must be changed in release mode")
	}
	if c.JWTExpiry <= 0 {
		return errors.New("JWT_EXPIRY must be positive")
	}
	if c.WS.SendBuffer <= 0 || c.WS.MaxMessageBytes <= 0 {
		return errors.New("websocket buffer sizes must be positive")
	}
	if c.WS.RateBurst <= 0 || c.WS.RatePerSecond <= 0 {
		return errors.New("websocket rate limit must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	envString("APP_ADDR", &cfg.Addr)
	envString("GIN_MODE", &cfg.Mode)
	envString("DB_DRIVER", &cfg.DBDriver)
	envString("DB_DSN", &cfg.DBDSN)
	envString("JWT_SECRET", &cfg.JWTSecret)
	envDuration("JWT_EXPIRY", &cfg.JWTExpiry)
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.FrontendURLs = splitList(v)
	}

	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envInt("REDIS_DB", &cfg.RedisDB)
	envString("REDIS_CHANNEL", &cfg.RedisChannel)

	envString("RABBIT_URL", &cfg.RabbitURL)
	envString("RABBIT_QUEUE", &cfg.RabbitQueue)

	envString("SMTP_HOST", &cfg.SMTPHost)
	envInt("SMTP_PORT", &cfg.SMTPPort)
	envString("SMTP_USER", &cfg.SMTPUser)
	envString("SMTP_PASS", &cfg.SMTPPass)
	envString("SMTP_FROM", &cfg.SMTPFrom)

	envInt("WS_SEND_BUFFER", &cfg.WS.SendBuffer)
	if v := os.Getenv("WS_MAX_MESSAGE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.WS.MaxMessageBytes = n
		}
	}
	envInt("WS_RATE_BURST", &cfg.WS.RateBurst)
	if v := os.Getenv("WS_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.WS.RatePerSecond = f
		}
	}

	envInt("WORKER_CONCURRENCY", &cfg.WorkerConcurrency)
	if cfg.WorkerConcurrency <= 0 {
		cfg.WorkerConcurrency = 2
	}
	if cfg.WorkerConcurrency > 50 {
		cfg.WorkerConcurrency = 50
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// envDuration accepts Go durations ("72h") and the "7d" day shorthand.
func envDuration(key string, dst *time.Duration) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if strings.HasSuffix(v, "d") {
		if n, err := strconv.Atoi(strings.TrimSuffix(v, "d")); err == nil {
			*dst = time.Duration(n) * 24 * time.Hour
		}
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
