package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryURLCacheExpires(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryURLCache()
	c.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.SetPaymentURL(ctx, 3, "https://pay.example/3"))
	got, err := c.GetPaymentURL(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/3", got)

	now = now.Add(PaymentURLTTL)
	_, err = c.GetPaymentURL(ctx, 3)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryURLCacheMiss(t *testing.T) {
	_, err := NewMemoryURLCache().GetPaymentURL(context.Background(), 1)
	assert.ErrorIs(t, err, ErrMiss)
}

func TestPaymentURLKey(t *testing.T) {
	assert.Equal(t, "payment_url:17", paymentURLKey(17))
}

func TestNewRedisURLCacheRejectsBadURL(t *testing.T) {
	_, err := NewRedisURLCache(context.Background(), "://nope")
	assert.Error(t, err)
}
