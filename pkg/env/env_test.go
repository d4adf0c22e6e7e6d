package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetOrDefault(t *testing.T) {
	t.Setenv("KW_TEST_VALUE", "")
	assert.Equal(t, "fallback", GetOrDefault("KW_TEST_VALUE", "fallback"))

	t.Setenv("KW_TEST_VALUE", "set")
	assert.Equal(t, "set", GetOrDefault("KW_TEST_VALUE", "fallback"))
}

func TestGetBoolOrDefault(t *testing.T) {
	t.Setenv("KW_TEST_BOOL", "")
	assert.True(t, GetBoolOrDefault("KW_TEST_BOOL", true))

	t.Setenv("KW_TEST_BOOL", "yes")
	assert.True(t, GetBoolOrDefault("KW_TEST_BOOL", false))

	t.Setenv("KW_TEST_BOOL", "nope")
	assert.False(t, GetBoolOrDefault("KW_TEST_BOOL", true))
}

func TestGetIntOrDefault(t *testing.T) {
	t.Setenv("KW_TEST_INT", "12")
	assert.Equal(t, 12, GetIntOrDefault("KW_TEST_INT", 3))

	t.Setenv("KW_TEST_INT", "twelve")
	assert.Equal(t, 3, GetIntOrDefault("KW_TEST_INT", 3))
}

func TestGetDurationOrDefault(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{"", 5 * time.Second},
		{"90s", 90 * time.Second},
		{"2m", 2 * time.Minute},
		{"30", 30 * time.Second},
		{"soon", 5 * time.Second},
	}

	for _, tt := range tests {
		t.Setenv("KW_TEST_DURATION", tt.value)
		assert.Equal(t, tt.expected, GetDurationOrDefault("KW_TEST_DURATION", 5*time.Second), "value %q", tt.value)
	}
}
