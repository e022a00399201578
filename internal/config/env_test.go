package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnvDefaults(t *testing.T) {
	t.Setenv("APP_URL", "https://trips.example.test/")
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("GATEWAY_TIMEOUT", "")
	t.Setenv("REFUND_MAX_ATTEMPTS", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("PAYPAL_SANDBOX", "")

	env := LoadEnv()
	assert.Equal(t, "https://trips.example.test", env.AppURL)
	assert.Equal(t, "https://trips.example.test", env.FrontendURL)
	assert.Equal(t, 5*time.Second, env.GatewayTimeout)
	assert.Equal(t, 3, env.RefundMaxAttempts)
	assert.Contains(t, env.DBDSN, "parseTime=true")
	assert.True(t, env.PayPal.Sandbox)
	assert.Equal(t, "https://trips.example.test/api/v1/payments/webpay/callback", env.WebPay.NotifyURL)
	assert.Equal(t, 5*time.Second, env.Stripe.Timeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "2s")
	t.Setenv("REFUND_MAX_ATTEMPTS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("YOOKASSA_TRUSTED_NETWORKS", "10.0.0.0/8")

	env := LoadEnv()
	assert.Equal(t, 2*time.Second, env.GatewayTimeout)
	assert.Equal(t, 5, env.RefundMaxAttempts)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, env.CORSAllowedOrigins)
	assert.Equal(t, []string{"10.0.0.0/8"}, env.YooKassa.TrustedNetworks)
}

func TestLoadEnvTrustedProxiesAndNetworks(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "")
	t.Setenv("YOOKASSA_TRUSTED_NETWORKS", "")

	env := LoadEnv()
	assert.Empty(t, env.TrustedProxies)
	assert.NotEmpty(t, env.YooKassa.TrustedNetworks)

	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,172.16.0.0/12")
	t.Setenv("YOOKASSA_TRUSTED_NETWORKS", "off")
	env = LoadEnv()
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, env.TrustedProxies)
	assert.Empty(t, env.YooKassa.TrustedNetworks)
}
