package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"tripbooking/internal/gateway/paypal"
	"tripbooking/internal/gateway/stripepay"
	"tripbooking/internal/gateway/webpay"
	"tripbooking/internal/gateway/yookassa"
)

type Env struct {
	AppAddr     string
	AppEnv      string
	GinMode     string
	AppURL      string
	FrontendURL string

	DBDSN    string
	RedisURL string

	JWTSecret         string
	AdminEmail        string
	AdminPasswordHash string

	CORSAllowedOrigins []string
	// TrustedProxies are the reverse proxies whose X-Forwarded-For is
	// believed. Empty means the socket peer is the client.
	TrustedProxies []string

	RefundQueueURL     string
	RefundMaxAttempts  int
	BookingEventsTopic string
	AWSEndpoint        string

	GatewayTimeout time.Duration

	YooKassa yookassa.Config
	Stripe   stripepay.Config
	PayPal   paypal.Config
	WebPay   webpay.Config
}

// IsLocal reports a developer machine, where magic-link tokens are echoed
// back in API responses.
func (e Env) IsLocal() bool {
	return e.AppEnv == "" || e.AppEnv == "local"
}

// LoadEnv reads configuration from the process environment, after loading a
// .env file when one exists.
func LoadEnv() Env {
	_ = godotenv.Load()

	appURL := strings.TrimRight(get("APP_URL", "http://localhost:8080"), "/")
	frontendURL := strings.TrimRight(get("FRONTEND_URL", appURL), "/")
	timeout := duration("GATEWAY_TIMEOUT", 5*time.Second)

	env := Env{
		AppAddr:     get("APP_ADDR", ":8080"),
		AppEnv:      get("APP_ENV", "local"),
		GinMode:     get("GIN_MODE", ""),
		AppURL:      appURL,
		FrontendURL: frontendURL,

		DBDSN:    dsn(),
		RedisURL: get("REDIS_URL", ""),

		JWTSecret:         get("JWT_SECRET", ""),
		AdminEmail:        strings.ToLower(get("ADMIN_EMAIL", "")),
		AdminPasswordHash: get("ADMIN_PASSWORD_HASH", ""),

		CORSAllowedOrigins: list("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:3000",
			"http://127.0.0.1:3000",
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		}),

		TrustedProxies: list("TRUSTED_PROXIES", nil),

		RefundQueueURL:     get("REFUND_QUEUE_URL", ""),
		RefundMaxAttempts:  integer("REFUND_MAX_ATTEMPTS", 3),
		BookingEventsTopic: get("BOOKING_EVENTS_TOPIC_ARN", ""),
		AWSEndpoint:        get("AWS_ENDPOINT", ""),

		GatewayTimeout: timeout,
	}

	env.YooKassa = yookassa.Config{
		ShopID:          get("YOOKASSA_SHOP_ID", ""),
		SecretKey:       get("YOOKASSA_SECRET_KEY", ""),
		BaseURL:         get("YOOKASSA_BASE_URL", ""),
		ReturnURL:       frontendURL + "/payment/callback",
		Timeout:         timeout,
		TrustedNetworks: trustedNetworks(),
	}
	env.Stripe = stripepay.Config{
		SecretKey:     get("STRIPE_SECRET_KEY", ""),
		WebhookSecret: get("STRIPE_WEBHOOK_SECRET", ""),
		APIURL:        get("STRIPE_API_URL", ""),
		SuccessURL:    frontendURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     frontendURL + "/payment/cancel",
		Timeout:       timeout,
	}
	env.PayPal = paypal.Config{
		ClientID:     get("PAYPAL_CLIENT_ID", ""),
		ClientSecret: get("PAYPAL_CLIENT_SECRET", ""),
		WebhookID:    get("PAYPAL_WEBHOOK_ID", ""),
		Sandbox:      boolean("PAYPAL_SANDBOX", true),
		BaseURL:      get("PAYPAL_BASE_URL", ""),
		ReturnURL:    appURL + "/api/v1/payments/paypal/callback",
		CancelURL:    frontendURL + "/payment/cancel",
		BrandName:    get("PAYPAL_BRAND_NAME", ""),
		Timeout:      timeout,
	}
	env.WebPay = webpay.Config{
		StoreID:   get("WEBPAY_MERCHANT_ID", ""),
		SecretKey: get("WEBPAY_SECRET_KEY", ""),
		TestMode:  boolean("WEBPAY_TEST_MODE", true),
		BaseURL:   get("WEBPAY_BASE_URL", ""),
		ReturnURL: frontendURL + "/payment/success",
		CancelURL: frontendURL + "/payment/cancel",
		NotifyURL: appURL + "/api/v1/payments/webpay/callback",
		Timeout:   timeout,
	}
	return env
}

// trustedNetworks is the YooKassa source allow-list. "off" disables the check
// for setups where the client address cannot be recovered.
func trustedNetworks() []string {
	if strings.EqualFold(get("YOOKASSA_TRUSTED_NETWORKS", ""), "off") {
		return nil
	}
	return list("YOOKASSA_TRUSTED_NETWORKS", yookassa.DefaultTrustedNetworks)
}

func dsn() string {
	if v := get("DB_DSN", ""); v != "" {
		return v
	}
	return get("DB_USER", "root") + ":" + get("DB_PASSWORD", "") +
		"@tcp(" + get("DB_HOST", "127.0.0.1") + ":" + get("DB_PORT", "3306") + ")/" + get("DB_NAME", "trip_booking") +
		"?parseTime=true&loc=UTC&charset=utf8mb4&timeout=5s&readTimeout=30s&writeTimeout=30s"
}

func get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func integer(key string, fallback int) int {
	if n, err := strconv.Atoi(get(key, "")); err == nil {
		return n
	}
	return fallback
}

func boolean(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(get(key, "")); err == nil {
		return b
	}
	return fallback
}

func duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(get(key, "")); err == nil && d > 0 {
		return d
	}
	return fallback
}

func list(key string, fallback []string) []string {
	raw := get(key, "")
	if raw == "" {
		return fallback
	}
	out := []string{}
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
