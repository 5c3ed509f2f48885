package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Booking / scheduling
	BookingWindowDays int
	BookingTimezone   string

	// M-Pesa (Daraja) STK push
	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortCode      string
	MpesaPasskey        string
	MpesaCallbackURL    string

	// Pesapal card gateway
	PesapalBaseURL        string
	PesapalConsumerKey    string
	PesapalConsumerSecret string
	PesapalCallbackURL    string
	PesapalIPNURL         string

	// Payment session lifecycle
	PaymentSessionTTL  time.Duration
	PaymentStatusCache time.Duration

	// Stellar settlement leg
	StellarEnabled           bool
	StellarNetwork           string
	StellarHorizonURL        string
	StellarSourceSecret      string
	StellarDestinationWallet string
	StellarUSDCIssuer        string
	StellarMemoPrefix        string
	KesPerUSD                float64
	ExchangeRateAPIURL       string

	// Notification sink
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Per-IP request throttle; 0 disables it.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		BookingWindowDays: getEnvAsInt("BOOKING_WINDOW_DAYS", 60),
		BookingTimezone:   getEnv("BOOKING_TIMEZONE", "Africa/Nairobi"),

		MpesaBaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
		MpesaConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
		MpesaConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
		MpesaShortCode:      getEnv("MPESA_SHORT_CODE", "174379"),
		MpesaPasskey:        getEnv("MPESA_PASSKEY", ""),
		MpesaCallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),

		PesapalBaseURL:        getEnv("PESAPAL_BASE_URL", "https://cybqa.pesapal.com/pesapalv3"),
		PesapalConsumerKey:    getEnv("PESAPAL_CONSUMER_KEY", ""),
		PesapalConsumerSecret: getEnv("PESAPAL_CONSUMER_SECRET", ""),
		PesapalCallbackURL:    getEnv("PESAPAL_CALLBACK_URL", ""),
		PesapalIPNURL:         getEnv("PESAPAL_IPN_URL", ""),

		PaymentSessionTTL:  getEnvAsDuration("PAYMENT_SESSION_TTL", time.Hour),
		PaymentStatusCache: getEnvAsDuration("PAYMENT_STATUS_CACHE_TTL", 15*time.Minute),

		StellarEnabled:           getEnvAsBool("STELLAR_ENABLED", false),
		StellarNetwork:           getEnv("STELLAR_NETWORK", "testnet"),
		StellarHorizonURL:        getEnv("STELLAR_HORIZON_URL", "https://horizon-testnet.stellar.org"),
		StellarSourceSecret:      getEnv("STELLAR_SOURCE_SECRET", ""),
		StellarDestinationWallet: getEnv("STELLAR_DESTINATION_WALLET", ""),
		StellarUSDCIssuer:        getEnv("STELLAR_USDC_ISSUER", "GBBD47IF6LWK7P7MDEVSCWR7DPUWV3NY3DTQEVFL4NAT4AQH3ZLLFLA5"),
		StellarMemoPrefix:        getEnv("STELLAR_MEMO_PREFIX", "TibaCloud-"),
		KesPerUSD:                getEnvAsFloat("KES_PER_USD", 129.0),
		ExchangeRateAPIURL:       getEnv("EXCHANGE_RATE_API_URL", "https://api.exchangerate-api.com/v4/latest"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Tiba Cloud"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),

		RateLimitRPS:   getEnvAsFloat("RATE_LIMIT_RPS", 0),
		RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// CallbackURL joins PublicBaseURL with a path, used to default the gateway
// callback URLs when they are not set explicitly.
func (c *Config) CallbackURL(path string) string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + path
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// splitList parses a comma-separated env value into trimmed entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
