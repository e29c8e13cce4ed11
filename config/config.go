package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"eventmart/internal/gateway"
	"eventmart/models"

	"github.com/shopspring/decimal"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// PubNub configuration (user-facing push channels)
	PubNubPublishKey   string
	PubNubSubscribeKey string
	PubNubSecretKey    string

	// NetPay gateway configuration
	NetPay gateway.Config

	// Pricing policy
	TaxRate           decimal.Decimal
	ShippingFee       decimal.Decimal
	FreeShippingAbove decimal.Decimal
	Currency          string

	// Reward policy
	CashbackRate  decimal.Decimal
	WheelSegments []models.WheelSegment

	// Timeout configuration
	PaymentTimeout time.Duration
	GatewayTimeout time.Duration

	// Settlement retry configuration
	CommitRetries     int
	CommitBackoff     time.Duration
	StuckScanInterval time.Duration
	ExpiryInterval    time.Duration

	// Admin
	AdminTokenHash string

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// PubNub
		PubNubPublishKey:   getEnv("PUBNUB_PUBLISH_KEY", ""),
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubSecretKey:    getEnv("PUBNUB_SECRET_KEY", ""),

		// NetPay
		NetPay: gateway.Config{
			BaseURL:        getEnv("NETPAY_BASE_URL", "https://sandbox.netpay.example"),
			MerchantID:     getEnv("NETPAY_MERCHANT_ID", ""),
			ClientID:       getEnv("NETPAY_CLIENT_ID", ""),
			ClientKey:      getEnv("NETPAY_CLIENT_KEY", ""),
			HMACKey:        getEnv("NETPAY_HMAC_KEY", ""),
			CallbackSecret: getEnv("NETPAY_CALLBACK_SECRET", ""),
			PNSubKey:       getEnv("NETPAY_PN_SUBKEY", ""),
			PNSubSecret:    getEnv("NETPAY_PN_SUBSECRET", ""),
			PNUUID:         getEnv("NETPAY_PN_UUID", ""),
			PNChannel:      getEnv("NETPAY_PN_CHANNEL", ""),
			PNCipherKey:    getEnv("NETPAY_PN_CIPHERKEY", ""),
		},

		// Pricing
		TaxRate:           getEnvAsDecimal("TAX_RATE", "0.18"),
		ShippingFee:       getEnvAsDecimal("SHIPPING_FEE", "50"),
		FreeShippingAbove: getEnvAsDecimal("FREE_SHIPPING_ABOVE", "1000"),
		Currency:          getEnv("CURRENCY", "INR"),

		// Rewards
		CashbackRate:  getEnvAsDecimal("CASHBACK_RATE", "0.02"),
		WheelSegments: getEnvAsSegments("WHEEL_SEGMENTS"),

		// Timeouts
		PaymentTimeout: getEnvAsDuration("PAYMENT_TIMEOUT", "10m"),
		GatewayTimeout: getEnvAsDuration("GATEWAY_TIMEOUT", "15s"),

		// Settlement
		CommitRetries:     getEnvAsInt("COMMIT_RETRIES", 5),
		CommitBackoff:     getEnvAsDuration("COMMIT_BACKOFF", "100ms"),
		StuckScanInterval: getEnvAsDuration("STUCK_SCAN_INTERVAL", "1m"),
		ExpiryInterval:    getEnvAsDuration("EXPIRY_INTERVAL", "1m"),

		// Admin
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := getEnv(key, defaultValue)
	if d, err := decimal.NewFromString(valueStr); err == nil {
		return d
	}
	d, _ := decimal.NewFromString(defaultValue)
	return d
}

// getEnvAsSegments parses a JSON array of {weight, coins} objects. Falls
// back to a small default wheel when unset or malformed.
func getEnvAsSegments(key string) []models.WheelSegment {
	defaults := []models.WheelSegment{
		{Weight: 50, Coins: 0},
		{Weight: 30, Coins: 5},
		{Weight: 15, Coins: 20},
		{Weight: 5, Coins: 100},
	}

	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaults
	}

	var segments []models.WheelSegment
	if err := json.Unmarshal([]byte(valueStr), &segments); err != nil || len(segments) == 0 {
		return defaults
	}
	return segments
}
