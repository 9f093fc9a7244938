package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Env      string
	HTTPAddr string
	NodeID   int64

	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	GatewayURL        string
	GatewayMerchantID string
	GatewayKey        string
	GatewayNotifyURL  string
	GatewayReturnURL  string
	GatewayAllowedIPs []string
	TrustedProxies    []string

	PointsTTLDays    int
	RedeemDailyLimit int
	DailyAwardPoints int64
	DailyAwardTag    string

	RegisterMaxPerIP int
	RegisterWindow   time.Duration
	RegisterStore    string

	AdmissionLimit        int
	AdmissionTimeout      time.Duration
	AdmissionReapInterval time.Duration

	ExpirySchedule    string
	ReconcileSchedule string
	SweepSchedule     string
	ReconcileGrace    time.Duration

	BotToken    string
	AlertChatID int64
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		Env:      getEnv("APP_ENV", EnvLocal),
		HTTPAddr: getEnv("HTTP_ADDR", "0.0.0.0:8080"),
		NodeID:   int64(getEnvInt("NODE_ID", 1)),

		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "pixelmint"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		GatewayURL:        getEnv("GATEWAY_URL", ""),
		GatewayMerchantID: getEnv("GATEWAY_MERCHANT_ID", ""),
		GatewayKey:        getEnv("GATEWAY_KEY", ""),
		GatewayNotifyURL:  getEnv("GATEWAY_NOTIFY_URL", ""),
		GatewayReturnURL:  getEnv("GATEWAY_RETURN_URL", ""),
		GatewayAllowedIPs: getEnvList("GATEWAY_ALLOWED_IPS", nil),
		TrustedProxies:    getEnvList("TRUSTED_PROXIES", nil),

		PointsTTLDays:    getEnvInt("POINTS_TTL_DAYS", 365),
		RedeemDailyLimit: getEnvInt("REDEEM_DAILY_LIMIT", 5),
		DailyAwardPoints: int64(getEnvInt("DAILY_AWARD_POINTS", 50)),
		DailyAwardTag:    getEnv("DAILY_AWARD_TAG", "daily login award"),

		RegisterMaxPerIP: getEnvInt("REGISTER_MAX_PER_IP", 3),
		RegisterWindow:   getEnvDuration("REGISTER_WINDOW", 24*time.Hour),
		RegisterStore:    getEnv("REGISTER_STORE", "db"),

		AdmissionLimit:        getEnvInt("ADMISSION_LIMIT", 2),
		AdmissionTimeout:      getEnvDuration("ADMISSION_TIMEOUT", 10*time.Minute),
		AdmissionReapInterval: getEnvDuration("ADMISSION_REAP_INTERVAL", time.Minute),

		ExpirySchedule:    getEnv("EXPIRY_SCHEDULE", "@every 1h"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "@every 5m"),
		SweepSchedule:     getEnv("SWEEP_SCHEDULE", ""),
		ReconcileGrace:    getEnvDuration("RECONCILE_GRACE", 2*time.Minute),

		BotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		AlertChatID: int64(getEnvInt("TELEGRAM_ALERT_CHAT_ID", 0)),
	}
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("invalid APP_ENV %q", c.Env)
	}
	if c.PointsTTLDays <= 0 {
		return fmt.Errorf("POINTS_TTL_DAYS must be positive")
	}
	if c.RedeemDailyLimit <= 0 {
		return fmt.Errorf("REDEEM_DAILY_LIMIT must be positive")
	}
	if c.RegisterMaxPerIP <= 0 || c.RegisterWindow <= 0 {
		return fmt.Errorf("REGISTER_MAX_PER_IP and REGISTER_WINDOW must be positive")
	}
	if c.RegisterStore != "db" && c.RegisterStore != "redis" {
		return fmt.Errorf("invalid REGISTER_STORE %q", c.RegisterStore)
	}
	if c.AdmissionLimit <= 0 || c.AdmissionTimeout <= 0 || c.AdmissionReapInterval <= 0 {
		return fmt.Errorf("admission limit, timeout and reap interval must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be within 0..1023")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == EnvProd
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid integer for %s: %q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		log.Printf("Invalid duration for %s: %q, using %s", key, value, fallback)
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
