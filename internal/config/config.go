package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"riskguard/internal/models"
	"riskguard/internal/risk"
	"riskguard/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	Gateway       GatewayConfig
	Redis         RedisConfig
	NATS          NATSConfig
	Risk          RiskEngineSettings
	Notifications NotificationConfig
	Logging       LoggingConfig
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
	CORSOrigins     []string
	WSOrigins       []string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
//
// Пустой APITokenHash отключает аутентификацию (только для локального запуска).
type SecurityConfig struct {
	APITokenHash string
}

// GatewayConfig - REST-шлюз DEX-агрегатора
type GatewayConfig struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	RateLimit float64 // запросов в секунду
	Burst     int
}

// RedisConfig - общий дневной объём; пустой Addr - объём хранится в памяти
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NATSConfig - публикация алертов; пустой URL отключает публикацию
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// RiskEngineSettings - параметры риск-движка из окружения
//
// Лимиты и триггеры отсюда служат начальными значениями,
// сохранённые в БД настройки имеют приоритет.
type RiskEngineSettings struct {
	Engine         risk.Config
	MonitorAddress string // если задан, мониторинг стартует при запуске
}

// NotificationConfig - хранение уведомлений
type NotificationConfig struct {
	KeepCount       int
	CleanupInterval time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			CORSOrigins:     getEnvAsList("CORS_ORIGINS", nil),
			WSOrigins:       getEnvAsList("WS_ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "riskguard"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			APITokenHash: getEnv("API_TOKEN_HASH", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:   getEnv("GATEWAY_URL", "http://localhost:9090"),
			APIKey:    getEnv("GATEWAY_API_KEY", ""),
			Timeout:   getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			RateLimit: getEnvAsFloat("GATEWAY_RATE_LIMIT", 10),
			Burst:     getEnvAsInt("GATEWAY_BURST", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", ""),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", ""),
		},
		Risk: RiskEngineSettings{
			Engine:         loadEngineConfig(),
			MonitorAddress: getEnv("MONITOR_ADDRESS", ""),
		},
		Notifications: NotificationConfig{
			KeepCount:       getEnvAsInt("NOTIFICATIONS_KEEP", 1000),
			CleanupInterval: getEnvAsDuration("NOTIFICATIONS_CLEANUP_INTERVAL", time.Hour),
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

	if err := cfg.Risk.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}

	return cfg, nil
}

// loadEngineConfig накладывает переменные окружения на значения по умолчанию
func loadEngineConfig() risk.Config {
	c := risk.DefaultConfig()

	c.Risk.Mode = models.TradingMode(strings.ToLower(getEnv("RISK_MODE", string(c.Risk.Mode))))
	c.Risk.CheckInterval = getEnvAsDuration("RISK_CHECK_INTERVAL", c.Risk.CheckInterval)
	c.Risk.MaxDailyLossPercent = getEnvAsFloat("RISK_MAX_DAILY_LOSS", c.Risk.MaxDailyLossPercent)
	c.Risk.MaxTotalLossPercent = getEnvAsFloat("RISK_MAX_TOTAL_LOSS", c.Risk.MaxTotalLossPercent)
	c.Risk.MaxPositionAge = getEnvAsDuration("RISK_MAX_POSITION_AGE", c.Risk.MaxPositionAge)
	c.Risk.MaxDailyVolume = getEnvAsFloat("RISK_MAX_DAILY_VOLUME", c.Risk.MaxDailyVolume)
	c.Risk.MaxPositionSizeUSD = getEnvAsFloat("RISK_MAX_TRADE_SIZE", c.Risk.MaxPositionSizeUSD)
	c.Risk.AutoLiquidate = getEnvAsBool("RISK_AUTO_LIQUIDATE", c.Risk.AutoLiquidate)

	c.Limits.MaxPositionSize = getEnvAsFloat("LIMIT_MAX_POSITION_SIZE", c.Limits.MaxPositionSize)
	c.Limits.MaxPositionCount = getEnvAsInt("LIMIT_MAX_POSITION_COUNT", c.Limits.MaxPositionCount)
	c.Limits.MaxConcentration = getEnvAsFloat("LIMIT_MAX_CONCENTRATION", c.Limits.MaxConcentration)
	c.Limits.MaxTotalExposure = getEnvAsFloat("LIMIT_MAX_TOTAL_EXPOSURE", c.Limits.MaxTotalExposure)
	c.Limits.MaxDailyVolume = getEnvAsFloat("LIMIT_MAX_DAILY_VOLUME", c.Limits.MaxDailyVolume)

	c.Triggers.PortfolioLossPercent = getEnvAsFloat("TRIGGER_PORTFOLIO_LOSS", c.Triggers.PortfolioLossPercent)
	c.Triggers.DailyLossPercent = getEnvAsFloat("TRIGGER_DAILY_LOSS", c.Triggers.DailyLossPercent)
	c.Triggers.VolatilityThreshold = getEnvAsFloat("TRIGGER_VOLATILITY", c.Triggers.VolatilityThreshold)
	c.Triggers.LiquidityThreshold = getEnvAsFloat("TRIGGER_LIQUIDITY", c.Triggers.LiquidityThreshold)

	c.Slippage.DefaultTolerance = getEnvAsFloat("SLIPPAGE_DEFAULT_TOLERANCE", c.Slippage.DefaultTolerance)
	c.Slippage.MaxTolerance = getEnvAsFloat("SLIPPAGE_MAX_TOLERANCE", c.Slippage.MaxTolerance)

	c.QuoteAsset = strings.ToUpper(strings.TrimSpace(getEnv("QUOTE_ASSET", c.QuoteAsset)))
	c.RecoveryPeriod = getEnvAsDuration("RECOVERY_PERIOD", c.RecoveryPeriod)
	return c
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is enabled")
	}

	hash := c.Security.APITokenHash
	if hash == "" {
		return nil
	}
	cost, err := crypto.GetHashCost(hash)
	if err != nil {
		return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash: %w", err)
	}
	if cost < crypto.MinAcceptedCost {
		return fmt.Errorf("API_TOKEN_HASH cost %d is below %d", cost, crypto.MinAcceptedCost)
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive, got %v", c.Server.ShutdownTimeout)
	}

	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %v", c.Gateway.Timeout)
	}

	if c.Gateway.RateLimit < 0 {
		return fmt.Errorf("GATEWAY_RATE_LIMIT cannot be negative, got %v", c.Gateway.RateLimit)
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15, got %d", c.Redis.DB)
	}

	// 0 = хранить всё
	if c.Notifications.KeepCount < 0 {
		return fmt.Errorf("NOTIFICATIONS_KEEP cannot be negative, got %d", c.Notifications.KeepCount)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Addr возвращает адрес для http.Server
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
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

// getEnvAsList разбирает список через запятую, пустые элементы пропускаются
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
