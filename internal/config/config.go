package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server     ServerConfig
	Simulation SimulationConfig
	WebSocket  WebSocketConfig
	Journal    JournalConfig
	Security   SecurityConfig
	Logging    LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string // CORS и проверка Origin для /ws
}

// SimulationConfig - параметры симуляции
type SimulationConfig struct {
	TickInterval     time.Duration
	HistoryWindow    int
	Dt               float64 // шаг в годах, 0 - один торговый день
	Seed             uint64  // 0 - случайный
	PriceFloor       float64
	RiskFreeRate     float64
	MarketVolatility float64
	CatalogPath      string // пусто - встроенный каталог
}

// WebSocketConfig - настройки рассылки
type WebSocketConfig struct {
	SendTimeout  time.Duration
	PingPeriod   time.Duration
	SendBuffer   int
	InboundRate  float64 // сообщений/сек от одного клиента
	InboundBurst float64
}

// JournalConfig - опциональный журнал риск-метрик в Postgres
type JournalConfig struct {
	Enabled       bool
	Host          string
	Port          int
	Name          string
	User          string
	Password      string
	SSLMode       string
	BatchSize     int
	BufferSize    int
	FlushInterval time.Duration
	MaxRetries    int
}

// SecurityConfig - доступ к /metrics
// Пустой MetricsUser отключает basic auth
type SecurityConfig struct {
	MetricsUser         string
	MetricsPasswordHash string // bcrypt
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
//
// Если в рабочей директории есть .env, он подгружается первым;
// уже выставленные переменные окружения не перезаписываются.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Simulation: SimulationConfig{
			TickInterval:     getEnvAsDuration("TICK_INTERVAL", 1*time.Second),
			HistoryWindow:    getEnvAsInt("HISTORY_WINDOW", 1000),
			Dt:               getEnvAsFloat("SIM_DT", 0),
			Seed:             getEnvAsUint64("SIM_SEED", 0),
			PriceFloor:       getEnvAsFloat("PRICE_FLOOR", 0.01),
			RiskFreeRate:     getEnvAsFloat("RISK_FREE_RATE", 0.02),
			MarketVolatility: getEnvAsFloat("MARKET_VOLATILITY", 0.18),
			CatalogPath:      getEnv("CATALOG_PATH", ""),
		},
		WebSocket: WebSocketConfig{
			SendTimeout:  getEnvAsDuration("WS_SEND_TIMEOUT", 2*time.Second),
			PingPeriod:   getEnvAsDuration("WS_PING_INTERVAL", 54*time.Second),
			SendBuffer:   getEnvAsInt("WS_SEND_BUFFER", 64),
			InboundRate:  getEnvAsFloat("WS_INBOUND_RATE", 10),
			InboundBurst: getEnvAsFloat("WS_INBOUND_BURST", 20),
		},
		Journal: JournalConfig{
			Enabled:       getEnvAsBool("JOURNAL_ENABLED", false),
			Host:          getEnv("DB_HOST", "localhost"),
			Port:          getEnvAsInt("DB_PORT", 5432),
			Name:          getEnv("DB_NAME", "riskstream"),
			User:          getEnv("DB_USER", "user"),
			Password:      getEnv("DB_PASSWORD", "password"),
			SSLMode:       getEnv("DB_SSL_MODE", "disable"),
			BatchSize:     getEnvAsInt("JOURNAL_BATCH_SIZE", 50),
			BufferSize:    getEnvAsInt("JOURNAL_BUFFER_SIZE", 256),
			FlushInterval: getEnvAsDuration("JOURNAL_FLUSH_INTERVAL", 5*time.Second),
			MaxRetries:    getEnvAsInt("JOURNAL_MAX_RETRIES", 3),
		},
		Security: SecurityConfig{
			MetricsUser:         getEnv("METRICS_USER", ""),
			MetricsPasswordHash: getEnv("METRICS_PASSWORD_HASH", ""),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadDotEnv подгружает файл окружения; отсутствие файла не ошибка
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is set")
	}

	// Basic auth на /metrics: пользователь без хеша бессмысленен
	if c.Security.MetricsUser != "" && c.Security.MetricsPasswordHash == "" {
		return fmt.Errorf("METRICS_PASSWORD_HASH is required when METRICS_USER is set")
	}
	if c.Security.MetricsPasswordHash != "" && !strings.HasPrefix(c.Security.MetricsPasswordHash, "$2") {
		return fmt.Errorf("METRICS_PASSWORD_HASH must be a bcrypt hash")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Simulation.TickInterval < 10*time.Millisecond {
		return fmt.Errorf("TICK_INTERVAL must be at least 10ms, got %v", c.Simulation.TickInterval)
	}

	if c.Simulation.HistoryWindow < 2 {
		return fmt.Errorf("HISTORY_WINDOW must be at least 2, got %d", c.Simulation.HistoryWindow)
	}

	if c.Simulation.Dt < 0 {
		return fmt.Errorf("SIM_DT cannot be negative, got %v", c.Simulation.Dt)
	}

	if c.Simulation.PriceFloor <= 0 {
		return fmt.Errorf("PRICE_FLOOR must be positive, got %v", c.Simulation.PriceFloor)
	}

	if c.Simulation.MarketVolatility < 0 {
		return fmt.Errorf("MARKET_VOLATILITY cannot be negative, got %v", c.Simulation.MarketVolatility)
	}

	if c.WebSocket.SendTimeout <= 0 {
		return fmt.Errorf("WS_SEND_TIMEOUT must be positive, got %v", c.WebSocket.SendTimeout)
	}

	if c.WebSocket.PingPeriod <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL must be positive, got %v", c.WebSocket.PingPeriod)
	}

	if c.WebSocket.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.WebSocket.SendBuffer)
	}

	if c.WebSocket.InboundRate <= 0 {
		return fmt.Errorf("WS_INBOUND_RATE must be positive, got %v", c.WebSocket.InboundRate)
	}

	if c.Journal.Enabled {
		if c.Journal.Port < 1 || c.Journal.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Journal.Port)
		}
		if c.Journal.BatchSize < 1 {
			return fmt.Errorf("JOURNAL_BATCH_SIZE must be positive, got %d", c.Journal.BatchSize)
		}
		if c.Journal.FlushInterval <= 0 {
			return fmt.Errorf("JOURNAL_FLUSH_INTERVAL must be positive, got %v", c.Journal.FlushInterval)
		}
	}

	if c.Journal.MaxRetries < 0 {
		return fmt.Errorf("JOURNAL_MAX_RETRIES cannot be negative, got %d", c.Journal.MaxRetries)
	}

	if c.Journal.MaxRetries > 10 {
		return fmt.Errorf("JOURNAL_MAX_RETRIES should not exceed 10, got %d", c.Journal.MaxRetries)
	}

	return nil
}

// Addr возвращает адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN возвращает строку подключения к базе данных
func (j JournalConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		j.Host, j.Port, j.User, j.Password, j.Name, j.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (j JournalConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		j.Host, j.Port, j.User, j.Name, j.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList читает список через запятую
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
