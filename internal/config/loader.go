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

// Config captures environment driven configuration values for the fleet reservation service.
type Config struct {
	HTTPPort          int
	LogLevel          string
	SQLiteDSN         string
	TimeZone          *time.Location
	ReconcileInterval time.Duration
	NoShowTimeout     time.Duration
	OverdueGrace      time.Duration
	OverduePolicy     string
	ExtendIncrement   time.Duration
	AutoApproveAfter  time.Duration
	MinLeadTime       time.Duration
	MaxDuration       time.Duration
	RestGap           time.Duration
	NightBoundary     string
	SyncReferenceHour string
	AdminRecipients   []string

	LockBackend string
	RedisURL    string
	LockTTL     time.Duration

	KafkaBrokers           []string
	KafkaNotificationTopic string
	KafkaEventTopic        string

	MQTTBrokerURL string
	MQTTClientID  string
}

// LoadEnvFile loads FLEET_ENV_FILE (default .env) into the process environment.
// Variables that are already set win; a missing file is ignored.
func LoadEnvFile() error {
	path := strings.TrimSpace(os.Getenv("FLEET_ENV_FILE"))
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the optional env file and then parses configuration from the environment.
func Load() (Config, error) {
	if err := LoadEnvFile(); err != nil {
		return Config{}, err
	}
	return FromEnvironment()
}

// FromEnvironment parses configuration values from the current process environment.
//
// Optional fields fall back to defaults. Every missing or invalid entry is
// collected and reported in a single error.
func FromEnvironment() (Config, error) {
	cfg := Config{
		HTTPPort:               8080,
		LogLevel:               "info",
		SQLiteDSN:              "fleet.db",
		ReconcileInterval:      30 * time.Minute,
		NoShowTimeout:          time.Hour,
		OverdueGrace:           30 * time.Minute,
		OverduePolicy:          "mark",
		ExtendIncrement:        30 * time.Minute,
		AutoApproveAfter:       time.Hour,
		MinLeadTime:            30 * time.Minute,
		MaxDuration:            13 * time.Hour,
		RestGap:                10 * time.Hour,
		NightBoundary:          "12:00",
		SyncReferenceHour:      "09:00",
		LockBackend:            "local",
		LockTTL:                30 * time.Second,
		KafkaNotificationTopic: "fleet.notifications",
		KafkaEventTopic:        "fleet.reservation-events",
		MQTTClientID:           "fleet-reservations",
	}

	p := parser{}

	p.positiveInt("FLEET_HTTP_PORT", &cfg.HTTPPort)
	p.oneOf("FLEET_LOG_LEVEL", &cfg.LogLevel, "debug", "info", "warn", "error")
	p.str("FLEET_SQLITE_DSN", &cfg.SQLiteDSN)

	zone := "Asia/Tokyo"
	p.str("FLEET_TIMEZONE", &zone)
	if loc, err := time.LoadLocation(zone); err != nil {
		if zone == "Asia/Tokyo" {
			cfg.TimeZone = time.FixedZone("JST", 9*60*60)
		} else {
			p.invalid = append(p.invalid, "FLEET_TIMEZONE")
		}
	} else {
		cfg.TimeZone = loc
	}

	p.duration("FLEET_RECONCILE_INTERVAL", &cfg.ReconcileInterval, false)
	p.duration("FLEET_NO_SHOW_TIMEOUT", &cfg.NoShowTimeout, false)
	p.duration("FLEET_OVERDUE_GRACE", &cfg.OverdueGrace, false)
	p.oneOf("FLEET_OVERDUE_POLICY", &cfg.OverduePolicy, "mark", "extend")
	p.duration("FLEET_EXTEND_INCREMENT", &cfg.ExtendIncrement, false)
	p.duration("FLEET_AUTO_APPROVE_AFTER", &cfg.AutoApproveAfter, true)
	p.duration("FLEET_MIN_LEAD_TIME", &cfg.MinLeadTime, true)
	p.duration("FLEET_MAX_DURATION", &cfg.MaxDuration, false)
	p.duration("FLEET_REST_GAP", &cfg.RestGap, true)
	p.clock("FLEET_NIGHT_BOUNDARY", &cfg.NightBoundary)
	p.clock("FLEET_SYNC_REFERENCE_HOUR", &cfg.SyncReferenceHour)
	p.list("FLEET_ADMIN_RECIPIENTS", &cfg.AdminRecipients)

	p.oneOf("FLEET_LOCK_BACKEND", &cfg.LockBackend, "local", "redis")
	p.str("FLEET_REDIS_URL", &cfg.RedisURL)
	p.duration("FLEET_LOCK_TTL", &cfg.LockTTL, false)
	if cfg.LockBackend == "redis" && cfg.RedisURL == "" {
		p.missing = append(p.missing, "FLEET_REDIS_URL")
	}

	p.list("FLEET_KAFKA_BROKERS", &cfg.KafkaBrokers)
	p.str("FLEET_KAFKA_NOTIFICATION_TOPIC", &cfg.KafkaNotificationTopic)
	p.str("FLEET_KAFKA_EVENT_TOPIC", &cfg.KafkaEventTopic)

	p.str("FLEET_MQTT_BROKER_URL", &cfg.MQTTBrokerURL)
	p.str("FLEET_MQTT_CLIENT_ID", &cfg.MQTTClientID)

	if len(p.missing) > 0 {
		return Config{}, fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(p.missing, ", "))
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("環境変数の値が不正です: %s", strings.Join(p.invalid, ", "))
	}
	return cfg, nil
}

type parser struct {
	missing []string
	invalid []string
}

func lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (p *parser) str(key string, dst *string) {
	if value, ok := lookup(key); ok {
		*dst = value
	}
}

func (p *parser) positiveInt(key string, dst *int) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = n
}

func (p *parser) duration(key string, dst *time.Duration, allowZero bool) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		p.invalid = append(p.invalid, key)
		return
	}
	*dst = d
}

func (p *parser) oneOf(key string, dst *string, allowed ...string) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	value = strings.ToLower(value)
	for _, a := range allowed {
		if value == a {
			*dst = value
			return
		}
	}
	p.invalid = append(p.invalid, key)
}

func (p *parser) clock(key string, dst *string) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if _, err := time.Parse(layout, value); err == nil {
			*dst = value
			return
		}
	}
	p.invalid = append(p.invalid, key)
}

func (p *parser) list(key string, dst *[]string) {
	value, ok := lookup(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
