package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendSupabase = "supabase"
	BackendFirebase = "firebase"

	RealtimeSupabase  = "supabase"
	RealtimeFirestore = "firestore"
	RealtimeNATS      = "nats"
	RealtimeMemory    = "memory"
)

type Config struct {
	ServerPort  string `yaml:"server_port"`
	Environment string `yaml:"environment"`
	Backend     string `yaml:"backend"`

	Firebase struct {
		ProjectID          string `yaml:"project_id"`
		ServiceAccountPath string `yaml:"service_account_path"`
		ServiceAccountJSON string `yaml:"-"`
	} `yaml:"firebase"`

	Supabase struct {
		URL       string `yaml:"url"`
		AnonKey   string `yaml:"anon_key"`
		JWTSecret string `yaml:"-"`
		JWKSURL   string `yaml:"jwks_url"`
	} `yaml:"supabase"`

	DatabaseURL string `yaml:"-"`

	Realtime struct {
		Driver            string        `yaml:"driver"`
		Heartbeat         time.Duration `yaml:"heartbeat"`
		NATSURL           string        `yaml:"nats_url"`
		NATSSubjectPrefix string        `yaml:"nats_subject_prefix"`
	} `yaml:"realtime"`

	Redis struct {
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"-"`
		DB         int           `yaml:"db"`
		ProfileTTL time.Duration `yaml:"profile_ttl"`
	} `yaml:"redis"`

	StorageBucket string `yaml:"storage_bucket"`

	Session struct {
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
		ReapSchedule string        `yaml:"reap_schedule"`
	} `yaml:"session"`

	SendRateBurst    int           `yaml:"send_rate_burst"`
	SendRateInterval time.Duration `yaml:"send_rate_interval"`
}

// Load reads .env, then environment variables, then the optional YAML files
// listed (comma-separated) in CONFIG_FILE. Later files override earlier ones.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		Backend:     getEnv("BACKEND", BackendSupabase),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		StorageBucket: getEnv("STORAGE_BUCKET", ""),

		SendRateBurst:    int(getEnvAsInt64("SEND_RATE_BURST", 10)),
		SendRateInterval: getEnvAsDuration("SEND_RATE_INTERVAL", 6*time.Second),
	}

	cfg.Firebase.ProjectID = getEnv("FIREBASE_PROJECT_ID", "")
	cfg.Firebase.ServiceAccountPath = getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", "")
	cfg.Firebase.ServiceAccountJSON = getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", "")

	cfg.Supabase.URL = getEnv("SUPABASE_URL", "")
	cfg.Supabase.AnonKey = getEnv("SUPABASE_ANON_KEY", "")
	cfg.Supabase.JWTSecret = getEnv("SUPABASE_JWT_SECRET", "")
	cfg.Supabase.JWKSURL = getEnv("SUPABASE_JWKS_URL", "")

	cfg.Realtime.Driver = getEnv("REALTIME_DRIVER", "")
	cfg.Realtime.Heartbeat = getEnvAsDuration("REALTIME_HEARTBEAT", 25*time.Second)
	cfg.Realtime.NATSURL = getEnv("NATS_URL", "nats://127.0.0.1:4222")
	cfg.Realtime.NATSSubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", "realtime")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = int(getEnvAsInt64("REDIS_DB", 0))
	cfg.Redis.ProfileTTL = getEnvAsDuration("REDIS_PROFILE_TTL", 10*time.Minute)

	cfg.Session.IdleTimeout = getEnvAsDuration("SESSION_IDLE_TIMEOUT", 30*time.Minute)
	cfg.Session.ReapSchedule = getEnv("SESSION_REAP_SCHEDULE", "@every 5m")

	if files := getEnv("CONFIG_FILE", ""); files != "" {
		if err := cfg.overlay(files); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlay(pathList string) error {
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read config %s: %w", p, err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return fmt.Errorf("parse config %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Realtime.Driver == "" {
		if c.Backend == BackendFirebase {
			c.Realtime.Driver = RealtimeFirestore
		} else {
			c.Realtime.Driver = RealtimeSupabase
		}
	}
	if c.Realtime.Heartbeat <= 0 {
		c.Realtime.Heartbeat = 25 * time.Second
	}
	if c.SendRateBurst <= 0 {
		c.SendRateBurst = 10
	}
	if c.SendRateInterval <= 0 {
		c.SendRateInterval = 6 * time.Second
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = 30 * time.Minute
	}
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSupabase:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the supabase backend")
		}
		if c.Supabase.JWTSecret == "" && c.Supabase.JWKSURL == "" {
			return fmt.Errorf("SUPABASE_JWT_SECRET or SUPABASE_JWKS_URL is required for the supabase backend")
		}
	case BackendFirebase:
		if c.Firebase.ProjectID == "" {
			return fmt.Errorf("FIREBASE_PROJECT_ID is required for the firebase backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	switch c.Realtime.Driver {
	case RealtimeSupabase:
		if c.Supabase.URL == "" {
			return fmt.Errorf("SUPABASE_URL is required for the supabase realtime driver")
		}
	case RealtimeFirestore:
		if c.Backend != BackendFirebase {
			return fmt.Errorf("the firestore realtime driver needs the firebase backend")
		}
	case RealtimeNATS, RealtimeMemory:
	default:
		return fmt.Errorf("unknown realtime driver %q", c.Realtime.Driver)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
