package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage and lockout backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Auth         AuthConfig
	Risk         RiskConfig
	Challenge    ChallengeConfig
	Lockout      LockoutConfig
	Session      SessionConfig
	Report       ReportConfig
	Notification NotificationConfig
	Captcha      CaptchaConfig
	Redis        RedisConfig
	Telemetry    TelemetryConfig
	Storage      StorageConfig
	RateLimit    RateLimitConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	AllowedOrigins  []string
	TrustedProxies  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret              string
	Issuer                 string
	AccessTokenExpiry      time.Duration
	TimingFloor            time.Duration
	TimingJitter           time.Duration
	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

type RiskConfig struct {
	Timezone string
	// Location is Timezone resolved once at load; every instance scores hours in it
	Location          *time.Location
	MaxKnownDevices   int
	MaxKnownLocations int
	Shards            int
}

type ChallengeConfig struct {
	TTL                time.Duration
	MaxAttempts        int
	AllowLowRiskBypass bool
	OTPIssuer          string
	// OTPEncryptionKey seals one-time secrets at rest; empty stores them unsealed
	OTPEncryptionKey []byte
	// ApprovalConsoleURL is linked from admin approval notifications
	ApprovalConsoleURL string
}

type LockoutConfig struct {
	Backend     string
	MaxAttempts int
	Duration    time.Duration
}

type SessionConfig struct {
	MaxConcurrent     int
	TTL               time.Duration
	InactivityTimeout time.Duration
}

type ReportConfig struct {
	BaselineWindow time.Duration
	MaxWindow      time.Duration
	HotspotLimit   int
}

type NotificationConfig struct {
	// Notifiers is any of "log", "ses", "webhook", "sms"
	Notifiers   []string
	SESRegion   string
	FromAddress string
	AdminEmails []string
	WebhookURL  string
	SMSURL      string
	BufferSize  int
	Workers     int
}

type CaptchaConfig struct {
	VerifyURL string
	Secret    string
	Timeout   time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type TelemetryConfig struct {
	ServiceName  string
	OTLPEndpoint string
	SamplingRate float64
}

// RateLimitConfig holds per-minute request budgets
type RateLimitConfig struct {
	LoginPerMinute         int
	VerifyPerMinute        int
	AuthenticatedPerMinute int
}

type StorageConfig struct {
	Backend         string
	CleanupInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")
	storageBackend := getEnv("STORAGE_BACKEND", BackendPostgres)

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "parlourguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			AllowedOrigins:  parseAllowedOrigins(env),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES", nil),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:              jwtSecret,
			Issuer:                 getEnv("JWT_ISSUER", "parlourguard"),
			AccessTokenExpiry:      getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			TimingFloor:            getEnvAsDuration("AUTH_TIMING_FLOOR", 200*time.Millisecond),
			TimingJitter:           getEnvAsDuration("AUTH_TIMING_JITTER", 100*time.Millisecond),
			BootstrapAdminEmail:    strings.ToLower(strings.TrimSpace(getEnv("BOOTSTRAP_ADMIN_EMAIL", ""))),
			BootstrapAdminPassword: getEnv("BOOTSTRAP_ADMIN_PASSWORD", ""),
		},
		Risk: RiskConfig{
			Timezone:          getEnv("RISK_TIMEZONE", "UTC"),
			MaxKnownDevices:   getEnvAsInt("RISK_MAX_KNOWN_DEVICES", 50),
			MaxKnownLocations: getEnvAsInt("RISK_MAX_KNOWN_LOCATIONS", 50),
			Shards:            getEnvAsInt("RISK_STORE_SHARDS", 64),
		},
		Challenge: ChallengeConfig{
			TTL:                getEnvAsDuration("CHALLENGE_TTL", 30*time.Minute),
			MaxAttempts:        getEnvAsInt("CHALLENGE_MAX_ATTEMPTS", 3),
			AllowLowRiskBypass: getEnvAsBool("CHALLENGE_ALLOW_LOW_RISK_BYPASS", false),
			OTPIssuer:          getEnv("CHALLENGE_OTP_ISSUER", "Parlour"),
			ApprovalConsoleURL: getEnv("CHALLENGE_APPROVAL_CONSOLE_URL", ""),
		},
		Lockout: LockoutConfig{
			Backend:     getEnv("LOCKOUT_BACKEND", storageBackend),
			MaxAttempts: getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			Duration:    getEnvAsDuration("LOCKOUT_DURATION", 15*time.Minute),
		},
		Session: SessionConfig{
			MaxConcurrent:     getEnvAsInt("SESSION_MAX_CONCURRENT", 3),
			TTL:               getEnvAsDuration("SESSION_TTL", 12*time.Hour),
			InactivityTimeout: getEnvAsDuration("SESSION_INACTIVITY_TIMEOUT", 30*time.Minute),
		},
		Report: ReportConfig{
			BaselineWindow: getEnvAsDuration("REPORT_BASELINE_WINDOW", 30*24*time.Hour),
			MaxWindow:      getEnvAsDuration("REPORT_MAX_WINDOW", 366*24*time.Hour),
			HotspotLimit:   getEnvAsInt("REPORT_HOTSPOT_LIMIT", 10),
		},
		Notification: NotificationConfig{
			Notifiers:   getEnvAsList("NOTIFIERS", []string{"log"}),
			SESRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("NOTIFY_FROM_ADDRESS", "no-reply@parlourguard.local"),
			AdminEmails: getEnvAsList("NOTIFY_ADMIN_EMAILS", nil),
			WebhookURL:  getEnv("NOTIFY_WEBHOOK_URL", ""),
			SMSURL:      getEnv("NOTIFY_SMS_GATEWAY_URL", ""),
			BufferSize:  getEnvAsInt("NOTIFY_BUFFER_SIZE", 256),
			Workers:     getEnvAsInt("NOTIFY_WORKERS", 2),
		},
		Captcha: CaptchaConfig{
			VerifyURL: getEnv("CAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
			Secret:    getEnv("CAPTCHA_SECRET", ""),
			Timeout:   getEnvAsDuration("CAPTCHA_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "parlourguard"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SamplingRate: getEnvAsFloat("OTEL_SAMPLING_RATE", 1.0),
		},
		Storage: StorageConfig{
			Backend:         storageBackend,
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute:         getEnvAsInt("RATE_LIMIT_LOGIN_PER_MINUTE", 10),
			VerifyPerMinute:        getEnvAsInt("RATE_LIMIT_VERIFY_PER_MINUTE", 20),
			AuthenticatedPerMinute: getEnvAsInt("RATE_LIMIT_AUTHENTICATED_PER_MINUTE", 120),
		},
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validateBackends(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.Risk.Timezone)
	if err != nil {
		return nil, fmt.Errorf("RISK_TIMEZONE %q is not a valid IANA zone: %w", cfg.Risk.Timezone, err)
	}
	cfg.Risk.Location = loc

	if raw := getEnv("OTP_ENCRYPTION_KEY", ""); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("OTP_ENCRYPTION_KEY must be 32 bytes, base64 encoded")
		}
		cfg.Challenge.OTPEncryptionKey = key
	} else if env == "production" {
		return nil, fmt.Errorf("OTP_ENCRYPTION_KEY is required in production")
	}

	if err := cfg.validateLimits(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validateBackends() error {
	switch c.Storage.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be %q or %q", BackendPostgres, BackendMemory)
	}

	switch c.Lockout.Backend {
	case BackendPostgres:
		if c.Storage.Backend != BackendPostgres {
			return fmt.Errorf("LOCKOUT_BACKEND=postgres requires STORAGE_BACKEND=postgres")
		}
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("LOCKOUT_BACKEND must be one of postgres, redis, memory")
	}

	if c.Storage.Backend == BackendPostgres && c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}

	for _, n := range c.Notification.Notifiers {
		switch n {
		case "log", "ses":
		case "webhook":
			if c.Notification.WebhookURL == "" {
				return fmt.Errorf("NOTIFY_WEBHOOK_URL is required when the webhook notifier is enabled")
			}
		case "sms":
			if c.Notification.SMSURL == "" {
				return fmt.Errorf("NOTIFY_SMS_GATEWAY_URL is required when the sms notifier is enabled")
			}
		default:
			return fmt.Errorf("unknown notifier %q", n)
		}
	}
	return nil
}

func (c *Config) validateLimits() error {
	positive := map[string]int{
		"CHALLENGE_MAX_ATTEMPTS": c.Challenge.MaxAttempts,
		"LOCKOUT_MAX_ATTEMPTS":   c.Lockout.MaxAttempts,
		"SESSION_MAX_CONCURRENT": c.Session.MaxConcurrent,
		"REPORT_HOTSPOT_LIMIT":   c.Report.HotspotLimit,

		"RATE_LIMIT_LOGIN_PER_MINUTE":         c.RateLimit.LoginPerMinute,
		"RATE_LIMIT_VERIFY_PER_MINUTE":        c.RateLimit.VerifyPerMinute,
		"RATE_LIMIT_AUTHENTICATED_PER_MINUTE": c.RateLimit.AuthenticatedPerMinute,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Challenge.TTL <= 0 || c.Lockout.Duration <= 0 || c.Session.TTL <= 0 {
		return fmt.Errorf("CHALLENGE_TTL, LOCKOUT_DURATION and SESSION_TTL must be positive")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// IsProduction reports whether the server runs with production hardening
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated value, dropping blanks
func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS", []string{})
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
