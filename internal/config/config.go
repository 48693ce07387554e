package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	PushChannelPostgres = "postgres"
	PushChannelKafka    = "kafka"
	PushChannelNone     = "none"

	StateRedis  = "redis"
	StateSQLite = "sqlite"
	StateMemory = "memory"
)

type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	DB       PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Notify   NotifyConfig
	Checkout CheckoutConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Port               string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
}

type PostgresConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SSLMode           string
	MigrationsDir     string
	MaxOpenConns      int
	MaxIdleConns      int
	BreakerFailures   int
	BreakerOpenPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CartTTL  time.Duration
}

type KafkaConfig struct {
	Brokers       []string
	OrderTopic    string
	ConsumerGroup string
	OutboxTick    time.Duration
}

type NotifyConfig struct {
	Enabled          bool
	OperatorID       string
	PushChannel      string
	State            string
	SQLitePath       string
	PollInterval     time.Duration
	ReminderInterval time.Duration
	SnoozeDuration   time.Duration
	WebhookURL       string
	OrdersRoute      string
}

type CheckoutConfig struct {
	StrictTransitions bool
	ShopName          string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		App: AppConfig{
			Name: getEnv("APP_NAME", "shop-service"),
			Env:  getEnv("APP_ENV", "development"),
		},
		HTTP: HTTPConfig{
			Port:               getEnv("HTTP_PORT", "8080"),
			RequestTimeout:     getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxRequestBodySize: 1 << 20, // 1MB
		},
		DB: PostgresConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "ecommerce"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MigrationsDir:     getEnv("MIGRATIONS_DIR", ""),
			MaxOpenConns:      getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			MaxIdleConns:      getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			BreakerFailures:   getEnvAsInt("DB_BREAKER_FAILURES", 5),
			BreakerOpenPeriod: getEnvAsDuration("DB_BREAKER_OPEN_PERIOD", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			CartTTL:  getEnvAsDuration("CART_TTL", 7*24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			OrderTopic:    getEnv("KAFKA_ORDER_TOPIC", "order-created"),
			ConsumerGroup: getEnv("KAFKA_CONSUMER_GROUP", "shop-operator"),
			OutboxTick:    getEnvAsDuration("OUTBOX_TICK", time.Second),
		},
		Notify: NotifyConfig{
			Enabled:          getEnvAsBool("NOTIFY_ENABLED", true),
			OperatorID:       getEnv("OPERATOR_ID", "admin"),
			PushChannel:      getEnv("PUSH_CHANNEL", PushChannelPostgres),
			State:            getEnv("NOTIFY_STATE", StateRedis),
			SQLitePath:       getEnv("SQLITE_PATH", "./notify.db"),
			PollInterval:     getEnvAsDuration("POLL_INTERVAL", 30*time.Second),
			ReminderInterval: getEnvAsDuration("REMINDER_INTERVAL", 2*time.Minute),
			SnoozeDuration:   getEnvAsDuration("SNOOZE_DURATION", 10*time.Second),
			WebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
			OrdersRoute:      getEnv("ORDERS_ROUTE", "/api/v1/orders"),
		},
		Checkout: CheckoutConfig{
			StrictTransitions: getEnvAsBool("STRICT_TRANSITIONS", false),
			ShopName:          getEnv("SHOP_NAME", "Shop"),
		},
	}

	return cfg, cfg.validate()
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host,
		p.Port,
		p.User,
		p.Password,
		p.DBName,
		p.SSLMode)
}

func (c *Config) validate() error {
	if c.HTTP.Port == "" {
		return fmt.Errorf("HTTP_PORT is empty")
	}
	if c.DB.Host == "" || c.DB.User == "" || c.DB.DBName == "" {
		return fmt.Errorf("database config is incomplete")
	}
	switch c.Notify.PushChannel {
	case PushChannelPostgres, PushChannelNone:
	case PushChannelKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers is empty")
		}
	default:
		return fmt.Errorf("unknown PUSH_CHANNEL %q", c.Notify.PushChannel)
	}
	switch c.Notify.State {
	case StateRedis, StateMemory:
	case StateSQLite:
		if c.Notify.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is empty")
		}
	default:
		return fmt.Errorf("unknown NOTIFY_STATE %q", c.Notify.State)
	}
	if c.Notify.PollInterval <= 0 || c.Notify.ReminderInterval <= 0 || c.Notify.SnoozeDuration <= 0 {
		return fmt.Errorf("notification intervals must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if val := strings.TrimSpace(p); val != "" {
			out = append(out, val)
		}
	}
	return out
}
