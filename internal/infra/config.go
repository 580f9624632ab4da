package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации обоих сервисов.
// Шлюз и коллектор читают один и тот же файл, каждый берет свое.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Collector CollectorConfig `mapstructure:"collector"`
	Security  SecurityConfig  `mapstructure:"security"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CollectorConfig — как шлюз ходит за политикой и куда шлет аудит.
type CollectorConfig struct {
	URL          string        `mapstructure:"url"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	TraceBuffer  int           `mapstructure:"trace_buffer"` // емкость хранилища трейсов
}

// SecurityConfig — HMAC-ключи цепочки доверия.
// Пустой ключ выключает соответствующую проверку (с явным предупреждением в логе).
type SecurityConfig struct {
	IngressKey  string        `mapstructure:"ingress_key"`  // агент -> шлюз
	UpstreamKey string        `mapstructure:"upstream_key"` // шлюз -> коллектор
	MaxSkew     time.Duration `mapstructure:"max_skew"`
}

// ApprovalsConfig — параметры очереди согласований.
type ApprovalsConfig struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// WebhookConfig — уведомления о смене статусов согласований.
type WebhookConfig struct {
	URL        string `mapstructure:"url"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
// Пустой URL означает хранение версий политики в памяти.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигналы политики).
// Пустой Addr выключает сигналинг, шлюз живет на TTL-кэше.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и операторскую учетку коллектора.
type AuthConfig struct {
	PrivateKeyPath   string `mapstructure:"private_key_path"`
	OperatorUsername string `mapstructure:"operator_username"`
	OperatorHash     string `mapstructure:"operator_hash"` // bcrypt-хэш пароля
	PrivateKey       []byte
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключа из Файла ИЛИ из ENV (для Docker/K8s)
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("collector.url", "http://localhost:8081")
	v.SetDefault("collector.cache_ttl", 30*time.Second)
	v.SetDefault("collector.fetch_timeout", 2*time.Second)
	v.SetDefault("collector.trace_buffer", 1000)
	v.SetDefault("security.max_skew", 5*time.Minute)
	v.SetDefault("approvals.sweep_interval", time.Minute)
	v.SetDefault("webhook.buffer_size", 256)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — ключ напрямую из ENV либо файл по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
