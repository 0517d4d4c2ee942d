package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Config holds the application's configuration values.
type Config struct {
	AppName   string `json:"appname"`
	AppEnv    string `json:"appenv"`
	AppPort   uint16 `json:"appport"`
	GinMode   string `json:"ginmode"`
	DBHost    string `json:"dbhost"`
	DBPort    uint16 `json:"dbport"`
	DBName    string `json:"dbname"`
	DBUSER    string `json:"dbuser"`
	DBPass    string `json:"dbpass"`
	JWTSecret string `json:"-"`

	LLM    LLMConfig    `json:"llm"`
	APILog APILogConfig `json:"api_log"`
	Redis  RedisConfig  `json:"redis"`
}

// LLMConfig configures the diagnosis model provider.
type LLMConfig struct {
	APIKey          string        `json:"-"`
	APIURL          string        `json:"api_url"`
	Model           string        `json:"model"`
	Temperature     float64       `json:"temperature"`
	MaxTokens       int           `json:"max_tokens"`
	MaxRetries      int           `json:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay"`
	RequestInterval time.Duration `json:"request_interval"`
	Timeout         time.Duration `json:"timeout"`
	AppURL          string        `json:"app_url"`
	AppTitle        string        `json:"app_title"`
}

// APILogConfig configures the model call audit log.
type APILogConfig struct {
	Enabled       bool   `json:"enabled"`
	Dir           string `json:"dir"`
	MaxBytes      int64  `json:"max_bytes"`
	ArchiveBucket string `json:"archive_bucket"`
}

// RedisConfig configures the optional Redis backing the status cache and
// the request rate limiter.
type RedisConfig struct {
	Enabled bool          `json:"enabled"`
	Addr    string        `json:"addr"`
	Pass    string        `json:"-"`
	DB      int           `json:"db"`
	Timeout time.Duration `json:"timeout"`
}

var config *Config
var once sync.Once

// LoadConfig loads the environment variables from a .env file when one
// exists, and returns a singleton Config instance.
func LoadConfig() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("Error loading .env file: %v", err)
		}

		appPort, _ := strconv.ParseUint(os.Getenv("APPPORT"), 10, 16)
		dbPort, _ := strconv.ParseUint(os.Getenv("DBPORT"), 10, 16)

		config = &Config{
			AppName:   os.Getenv("APPNAME"),
			AppEnv:    os.Getenv("APPENV"),
			AppPort:   uint16(appPort),
			GinMode:   os.Getenv("GINMODE"),
			DBHost:    os.Getenv("DBHOST"),
			DBPort:    uint16(dbPort),
			DBName:    os.Getenv("DBNAME"),
			DBUSER:    os.Getenv("DBUSER"),
			DBPass:    os.Getenv("DBPASS"),
			JWTSecret: os.Getenv("JWTSECRET"),
			LLM:       loadLLMConfig(),
			APILog:    loadAPILogConfig(),
			Redis:     loadRedisConfig(),
		}
	})
	return config
}

func loadLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:          os.Getenv("DEEPSEEK_API_KEY"),
		APIURL:          getEnv("DEEPSEEK_API_URL", "https://openrouter.ai/api/v1/chat/completions"),
		Model:           getEnv("DEEPSEEK_MODEL", "deepseek/deepseek-chat"),
		Temperature:     getEnvFloat("DEEPSEEK_TEMPERATURE", 0.7),
		MaxTokens:       getEnvInt("DEEPSEEK_MAX_TOKENS", 2000),
		MaxRetries:      getEnvInt("DEEPSEEK_MAX_RETRIES", 3),
		RetryDelay:      getEnvDuration("DEEPSEEK_RETRY_DELAY", time.Second),
		RequestInterval: getEnvDuration("DEEPSEEK_REQUEST_INTERVAL", time.Second),
		Timeout:         getEnvDuration("DEEPSEEK_TIMEOUT", 30*time.Second),
		AppURL:          getEnv("APP_URL", "http://localhost"),
		AppTitle:        getEnv("APP_TITLE", "中医智能问诊系统"),
	}
}

func loadAPILogConfig() APILogConfig {
	return APILogConfig{
		Enabled:       getEnvBool("API_LOG_ENABLED", true),
		Dir:           getEnv("API_LOG_DIR", "storage/logs"),
		MaxBytes:      int64(getEnvInt("API_LOG_MAX_BYTES", 10*1024*1024)),
		ArchiveBucket: os.Getenv("API_LOG_ARCHIVE_BUCKET"),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled: getEnvBool("REDIS_ENABLED", false),
		Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
		Pass:    os.Getenv("REDIS_PASS"),
		DB:      getEnvInt("REDIS_DB", 0),
		Timeout: getEnvDuration("REDIS_TIMEOUT", 500*time.Millisecond),
	}
}

// ConnectMySQL establishes a connection to a MySQL database using the
// configuration values. In the test environment an in-memory sqlite
// database is returned instead.
func ConnectMySQL() (*gorm.DB, error) {
	cfg := LoadConfig()
	if cfg.AppEnv == "test" || os.Getenv("APPENV") == "test" {
		return gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local", cfg.DBUSER, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return db, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or whole seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
