// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"tradingfloor/store"
)

// GetEnv returns the parsed value of key, or defaultValue when it is unset.
// A value that does not parse yields defaultValue and an error.
func GetEnv[T any](key string, defaultValue T) (T, error) {
	v, exists := os.LookupEnv(key)
	if !exists || v == "" {
		return defaultValue, nil
	}

	var (
		parsed any
		err    error
	)
	switch any(defaultValue).(type) {
	case string:
		return any(v).(T), nil
	case int:
		parsed, err = strconv.Atoi(v)
	case int64:
		parsed, err = strconv.ParseInt(v, 10, 64)
	case bool:
		parsed, err = strconv.ParseBool(v)
	case time.Duration:
		parsed, err = time.ParseDuration(v)
	case []string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		parsed = out
	default:
		return defaultValue, fmt.Errorf("unsupported type for env var %s: %T", key, defaultValue)
	}
	if err != nil {
		return defaultValue, fmt.Errorf("failed to parse env %s as %T: %w", key, defaultValue, err)
	}
	return parsed.(T), nil
}

// StoreKind selects the persistence backend.
type StoreKind string

const (
	StoreNone     StoreKind = "none"
	StorePebble   StoreKind = "pebble"
	StorePostgres StoreKind = "postgres"
)

type Config struct {
	ListenAddr    string
	AuthToken     string
	CORSOrigin    string
	LogLevel      string
	TickInterval  time.Duration
	OrderInterval time.Duration
	EventBuffer   int

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	EventCodec   string

	StoreKind StoreKind
	PebbleDir string
	DB        store.DBConfig
}

// KafkaEnabled reports whether events are published to a broker.
func (c Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads every setting. All parse failures are reported together.
func Load() (Config, error) {
	var problems []error
	str := func(key, def string) string {
		v, _ := GetEnv(key, def)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := GetEnv(key, def)
		if err != nil {
			problems = append(problems, err)
		}
		return v
	}

	cfg := Config{
		ListenAddr:    str("LISTEN_ADDR", ":8080"),
		AuthToken:     str("AUTH_TOKEN", ""),
		CORSOrigin:    str("CORS_ORIGIN", "*"),
		LogLevel:      str("LOG_LEVEL", "info"),
		TickInterval:  dur("TICK_INTERVAL", time.Second),
		OrderInterval: dur("AGENT_ORDER_INTERVAL", 0),
		KafkaTopic:    str("KAFKA_TOPIC", "session-events"),
		KafkaGroup:    str("KAFKA_GROUP", "session-recorder"),
		EventCodec:    str("EVENT_CODEC", "json"),
		StoreKind:     StoreKind(str("STORE", string(StoreNone))),
		PebbleDir:     str("PEBBLE_DIR", "data/pebble"),
		DB: store.DBConfig{
			Host:     str("DB_HOST", "localhost"),
			Port:     str("DB_PORT", "5432"),
			User:     str("DB_USER", "postgres"),
			Password: str("DB_PASSWORD", "postgres"),
			DBName:   str("DB_NAME", "tradingfloor"),
			SSLMode:  str("DB_SSLMODE", "disable"),
		},
	}
	var err error
	if cfg.EventBuffer, err = GetEnv("EVENT_BUFFER", 1024); err != nil {
		problems = append(problems, err)
	}
	if cfg.KafkaBrokers, err = GetEnv[[]string]("KAFKA_BROKERS", nil); err != nil {
		problems = append(problems, err)
	}

	switch cfg.StoreKind {
	case StoreNone, StorePebble, StorePostgres:
	default:
		problems = append(problems, fmt.Errorf("unknown STORE %q", cfg.StoreKind))
	}
	if cfg.TickInterval <= 0 {
		problems = append(problems, errors.New("TICK_INTERVAL must be positive"))
	}
	return cfg, errors.Join(problems...)
}
