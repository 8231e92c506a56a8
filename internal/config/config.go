package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeInstant = "instant"
	ModeReserve = "reserve"
)

type Config struct {
	HTTPAddr       string        `yaml:"http_addr"`
	RedisAddr      string        `yaml:"redis_addr"`
	MySQLDSN       string        `yaml:"mysql_dsn"`
	KafkaBrokers   []string      `yaml:"kafka_brokers"`
	KafkaTopic     string        `yaml:"kafka_topic"`
	PaymentURL     string        `yaml:"payment_url"`
	SaleMode       string        `yaml:"sale_mode"`
	ItemID         string        `yaml:"item_id"`
	WorkerCount    int           `yaml:"worker_count"`
	QueueSize      int           `yaml:"queue_size"`
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// UnmarshalYAML decodes duration fields from strings like "10m" (a plain
// time.Duration field would only accept integer nanoseconds). Fields absent
// from the document keep their current values.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		HTTPAddr       string   `yaml:"http_addr"`
		RedisAddr      string   `yaml:"redis_addr"`
		MySQLDSN       string   `yaml:"mysql_dsn"`
		KafkaBrokers   []string `yaml:"kafka_brokers"`
		KafkaTopic     string   `yaml:"kafka_topic"`
		PaymentURL     string   `yaml:"payment_url"`
		SaleMode       string   `yaml:"sale_mode"`
		ItemID         string   `yaml:"item_id"`
		WorkerCount    int      `yaml:"worker_count"`
		QueueSize      int      `yaml:"queue_size"`
		ReservationTTL string   `yaml:"reservation_ttl"`
		SweepInterval  string   `yaml:"sweep_interval"`
	}{
		HTTPAddr:     c.HTTPAddr,
		RedisAddr:    c.RedisAddr,
		MySQLDSN:     c.MySQLDSN,
		KafkaBrokers: c.KafkaBrokers,
		KafkaTopic:   c.KafkaTopic,
		PaymentURL:   c.PaymentURL,
		SaleMode:     c.SaleMode,
		ItemID:       c.ItemID,
		WorkerCount:  c.WorkerCount,
		QueueSize:    c.QueueSize,
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.HTTPAddr = raw.HTTPAddr
	c.RedisAddr = raw.RedisAddr
	c.MySQLDSN = raw.MySQLDSN
	c.KafkaBrokers = raw.KafkaBrokers
	c.KafkaTopic = raw.KafkaTopic
	c.PaymentURL = raw.PaymentURL
	c.SaleMode = raw.SaleMode
	c.ItemID = raw.ItemID
	c.WorkerCount = raw.WorkerCount
	c.QueueSize = raw.QueueSize

	if raw.ReservationTTL != "" {
		d, err := time.ParseDuration(raw.ReservationTTL)
		if err != nil {
			return fmt.Errorf("parse reservation_ttl: %w", err)
		}
		c.ReservationTTL = d
	}
	if raw.SweepInterval != "" {
		d, err := time.ParseDuration(raw.SweepInterval)
		if err != nil {
			return fmt.Errorf("parse sweep_interval: %w", err)
		}
		c.SweepInterval = d
	}
	return nil
}

func defaults() Config {
	return Config{
		HTTPAddr:       ":8080",
		RedisAddr:      "localhost:6379",
		MySQLDSN:       "root:root@tcp(localhost:3306)/flashsale?parseTime=true",
		KafkaTopic:     "flashsale.purchases",
		SaleMode:       ModeInstant,
		ItemID:         "flash-sale-item",
		WorkerCount:    10,
		QueueSize:      10000,
		ReservationTTL: 10 * time.Minute,
		SweepInterval:  30 * time.Second,
	}
}

// Load reads the optional YAML file at path, then applies environment
// overrides on top of it.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.MySQLDSN = getEnv("MYSQL_DSN", cfg.MySQLDSN)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)
	cfg.PaymentURL = getEnv("PAYMENT_URL", cfg.PaymentURL)
	cfg.SaleMode = getEnv("SALE_MODE", cfg.SaleMode)
	cfg.ItemID = getEnv("SALE_ITEM_ID", cfg.ItemID)
	cfg.WorkerCount = getEnvInt("WORKER_COUNT", cfg.WorkerCount)
	cfg.QueueSize = getEnvInt("QUEUE_SIZE", cfg.QueueSize)
	cfg.ReservationTTL = getEnvDuration("RESERVATION_TTL", cfg.ReservationTTL)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", cfg.SweepInterval)

	if cfg.SaleMode != ModeInstant && cfg.SaleMode != ModeReserve {
		return Config{}, fmt.Errorf("invalid sale_mode %q", cfg.SaleMode)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
