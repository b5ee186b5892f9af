// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting. PubNub keys are only required when
// the simulator is off.
type Config struct {
	Port          string
	RedisAddr     string
	PaymentWindow time.Duration
	BankAccount   string
	BankName      string

	Simulate     bool
	SimStepDelay time.Duration

	PNPublishKey   string
	PNSubscribeKey string
	PNSecretKey    string
	PNUUIDKey      string
	PNUUIDSubKey   string
}

// Load reads the environment. A missing .env file is fine; missing required
// variables are fatal.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		Port:          getenv("APP_PORT", "8081"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		PaymentWindow: time.Duration(getenvInt("PAYMENT_WINDOW_SECONDS", 180)) * time.Second,
		BankAccount:   getenv("BANK_ACCOUNT", "010-12-00-00123456-001"),
		BankName:      getenv("BANK_NAME", "BCEL"),

		Simulate:     getenvBool("SIMULATE_GATEWAY", true),
		SimStepDelay: time.Duration(getenvInt("SIM_STEP_DELAY_SECONDS", 5)) * time.Second,

		PNPublishKey:   os.Getenv("PN_PUBLISH_KEY"),
		PNSubscribeKey: os.Getenv("PN_SUBSCRIBE_KEY"),
		PNSecretKey:    os.Getenv("PN_SECRET_KEY"),
		PNUUIDKey:      os.Getenv("PN_UUID_KEY"),
		PNUUIDSubKey:   os.Getenv("PN_UUID_SUB_KEY"),
	}

	if !cfg.Simulate {
		mustSet("PN_PUBLISH_KEY", cfg.PNPublishKey)
		mustSet("PN_SUBSCRIBE_KEY", cfg.PNSubscribeKey)
		mustSet("PN_SECRET_KEY", cfg.PNSecretKey)
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int for env var %s: %q", key, v)
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool for env var %s: %q", key, v)
	}
	return b
}

func mustSet(key, v string) {
	if v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
}
