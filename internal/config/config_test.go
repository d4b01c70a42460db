package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Env:        tt.env,
				DBDriver:   "postgres",
				DBSSLMode:  tt.sslMode,
				JWTSecret:  "secure-secret-at-least-32-chars-long",
				DBPassword: "secure-password",
				Port:       "3000",
			}

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateDriver(t *testing.T) {
	c := &Config{Env: "test", Port: "3000", DBDriver: "oracle"}
	assert.Error(t, c.Validate())

	c.DBDriver = "sqlite"
	assert.NoError(t, c.Validate())
}

func TestConfig_ProductionRequiresJWTSecret(t *testing.T) {
	c := &Config{
		Env:        "production",
		DBDriver:   "postgres",
		DBSSLMode:  "require",
		DBPassword: "secure-password",
		Port:       "3000",
	}
	assert.Error(t, c.Validate())

	c.JWTSecret = "secure-secret-at-least-32-chars-long"
	assert.NoError(t, c.Validate())
}
