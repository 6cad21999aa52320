package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config stores runtime configuration loaded from environment variables.
type Config struct {
	AppEnv   string `validate:"required,oneof=development production test"`
	HTTPAddr string `validate:"required"`
	LogLevel string `validate:"oneof=debug info warn error"`

	DBDriver          string `validate:"oneof=postgres sqlite memory"`
	DBDSN             string `validate:"required_unless=DBDriver memory"`
	DBMaxOpenConns    int    `validate:"gte=1"`
	DBMaxIdleConns    int    `validate:"gte=0"`
	DBConnMaxLifeMins int    `validate:"gte=1"`

	LLMAPIKey         string
	LLMBaseURL        string `validate:"omitempty,url"`
	LLMModel          string
	LLMTimeoutSeconds int `validate:"gte=1"`
	LLMTasksFile      string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int `validate:"gte=0"`
	SessionTTLMinutes int `validate:"gte=1"`

	AdminTokenHash     string
	RateLimitPerMinute int `validate:"gte=1"`
	WSAllowedOrigin    string
	ReportDir          string

	QuestionRoleMenu      int `validate:"gte=1"`
	QuestionRolePath      int `validate:"gte=1"`
	QuestionFunctionality int `validate:"gte=1"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads .env when present, then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	return configFromEnv()
}

func configFromEnv() (Config, error) {
	driver := strings.ToLower(envOrDefault("DB_DRIVER", "sqlite"))
	dsnDefault := ""
	if driver == "sqlite" {
		dsnDefault = "data/jobgrade.db"
	}

	cfg := Config{
		AppEnv:   envOrDefault("APP_ENV", "development"),
		HTTPAddr: envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel: strings.ToLower(envOrDefault("LOG_LEVEL", "info")),

		DBDriver:          driver,
		DBDSN:             envOrDefault("DB_DSN", dsnDefault),
		DBMaxOpenConns:    intOrDefault("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    intOrDefault("DB_MAX_IDLE_CONNS", 25),
		DBConnMaxLifeMins: intOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),

		LLMAPIKey:         os.Getenv("LLM_API_KEY"),
		LLMBaseURL:        os.Getenv("LLM_BASE_URL"),
		LLMModel:          os.Getenv("LLM_MODEL"),
		LLMTimeoutSeconds: intOrDefault("LLM_TIMEOUT_SECONDS", 60),
		LLMTasksFile:      os.Getenv("LLM_TASKS_FILE"),

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           intOrDefault("REDIS_DB", 0),
		SessionTTLMinutes: intOrDefault("SESSION_TTL_MINUTES", 24*60),

		AdminTokenHash:     os.Getenv("ADMIN_TOKEN_HASH"),
		RateLimitPerMinute: intOrDefault("RATE_LIMIT_PER_MINUTE", 60),
		WSAllowedOrigin:    os.Getenv("WS_ALLOWED_ORIGIN"),
		ReportDir:          os.Getenv("REPORT_DIR"),

		QuestionRoleMenu:      intOrDefault("Q_ROLE_MENU", 1),
		QuestionRolePath:      intOrDefault("Q_ROLE_PATH", 3),
		QuestionFunctionality: intOrDefault("Q_FUNCTIONALITY", 7),
	}
	if err := configValidator.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.AppEnv == "production" && strings.TrimSpace(cfg.AdminTokenHash) == "" {
		return Config{}, fmt.Errorf("%w: ADMIN_TOKEN_HASH is required in production", ErrInvalidConfig)
	}
	return cfg, nil
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifeMins) * time.Minute
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsToInt(v string) int {
	n, _ := strconv.Atoi(v)
	return n
}

func intOrDefault(key string, fallback int) int {
	v := stringsToInt(os.Getenv(key))
	if v <= 0 {
		return fallback
	}
	return v
}
