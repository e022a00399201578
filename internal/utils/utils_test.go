package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "10.00", FormatMinor(1000))
	assert.Equal(t, "1500.05", FormatMinor(150005))
	assert.Equal(t, "-0.50", FormatMinor(-50))
}

func TestParseMinor(t *testing.T) {
	cases := map[string]int64{
		"10":      1000,
		"10.5":    1050,
		"1500,05": 150005,
		"0.01":    1,
	}
	for in, want := range cases {
		got, err := ParseMinor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMinor("1.234")
	assert.Error(t, err)
	_, err = ParseMinor("")
	assert.Error(t, err)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "1 500.00 RUB", FormatMoney(150000, "rub"))
	assert.Equal(t, "0.99", FormatMoney(99, ""))
}

func TestRandomString(t *testing.T) {
	a, err := RandomString(64)
	require.NoError(t, err)
	b, err := RandomString(64)
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abcdef", 3))
	assert.Equal(t, "ab", Truncate("ab", 3))
}
