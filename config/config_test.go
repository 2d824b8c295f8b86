package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() Config {
	return Config{
		Port:         "8080",
		DatabasePath: "pbb.db",
		JWTSecret:    testSecret,
		TokenTTL:     12 * time.Hour,
		BcryptCost:   10,
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errorString string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:        "invalid port - non-numeric",
			mutate:      func(c *Config) { c.Port = "abc" },
			errorString: "invalid port 'abc': must be a number",
		},
		{
			name:        "invalid port - out of range",
			mutate:      func(c *Config) { c.Port = "70000" },
			errorString: "invalid port 70000: must be between 1 and 65535",
		},
		{
			name:        "missing database path",
			mutate:      func(c *Config) { c.DatabasePath = "" },
			errorString: "database path cannot be empty",
		},
		{
			name:        "missing jwt secret",
			mutate:      func(c *Config) { c.JWTSecret = "" },
			errorString: "JWT_SECRET is required",
		},
		{
			name:        "short jwt secret",
			mutate:      func(c *Config) { c.JWTSecret = "short" },
			errorString: "JWT_SECRET must be at least 32 bytes",
		},
		{
			name:        "token ttl too short",
			mutate:      func(c *Config) { c.TokenTTL = time.Second },
			errorString: "invalid token ttl 1s: must be at least 1 minute",
		},
		{
			name:        "bad bcrypt cost",
			mutate:      func(c *Config) { c.BcryptCost = 2 },
			errorString: "invalid bcrypt cost 2: must be between 4 and 31",
		},
		{
			name:        "bad log level",
			mutate:      func(c *Config) { c.LogLevel = "loud" },
			errorString: `unknown log level "loud"`,
		},
		{
			name:        "bad log format",
			mutate:      func(c *Config) { c.LogFormat = "xml" },
			errorString: "invalid log format 'xml': must be text or json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.errorString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorString)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Port = "abc"
	cfg.JWTSecret = ""
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
	assert.Contains(t, err.Error(), "JWT_SECRET is required")
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		for _, key := range []string{"PORT", "DATABASE_PATH", "JWT_SECRET", "TOKEN_TTL", "CORS_ORIGINS", "LOG_LEVEL", "LOG_FORMAT", "BCRYPT_COST"} {
			t.Setenv(key, "")
		}

		cfg := FromEnv()
		assert.Equal(t, "8080", cfg.Port)
		assert.Equal(t, "pbb.db", cfg.DatabasePath)
		assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
		assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, "text", cfg.LogFormat)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PORT", "9090")
		t.Setenv("DATABASE_PATH", "/tmp/x.db")
		t.Setenv("JWT_SECRET", testSecret)
		t.Setenv("TOKEN_TTL", "30m")
		t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
		t.Setenv("LOG_FORMAT", "json")

		cfg := FromEnv()
		assert.Equal(t, "9090", cfg.Port)
		assert.Equal(t, "/tmp/x.db", cfg.DatabasePath)
		assert.Equal(t, testSecret, cfg.JWTSecret)
		assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
		assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("malformed duration falls back", func(t *testing.T) {
		t.Setenv("TOKEN_TTL", "soon")
		assert.Equal(t, 12*time.Hour, FromEnv().TokenTTL)
	})
}
