package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		addr  = "localhost:8080"
		dsn   = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		redis = "localhost:6379"
		key   = "c29tZV9zZWNyZXQ="
		orig  = []string{"http://localhost:3001"}
	)

	tcases := []struct {
		name  string
		addr  string
		dsn   string
		redis string
		key   string
		orig  []string
		err   bool
	}{
		{
			name:  "valid config",
			addr:  addr,
			dsn:   dsn,
			redis: redis,
			key:   key,
			orig:  orig,
			err:   false,
		},
		{
			name:  "empty address",
			addr:  "",
			dsn:   dsn,
			redis: redis,
			key:   key,
			orig:  orig,
			err:   true,
		},
		{
			name:  "empty DSN",
			addr:  addr,
			dsn:   "",
			redis: redis,
			key:   key,
			orig:  orig,
			err:   true,
		},
		{
			name:  "empty redis address",
			addr:  addr,
			dsn:   dsn,
			redis: "",
			key:   key,
			orig:  orig,
			err:   true,
		},
		{
			name:  "empty signing key",
			addr:  addr,
			dsn:   dsn,
			redis: redis,
			key:   "",
			orig:  orig,
			err:   true,
		},
		{
			name:  "invalid base64 signing key",
			addr:  addr,
			dsn:   dsn,
			redis: redis,
			key:   "not-base64!!",
			orig:  orig,
			err:   true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.addr, tc.dsn, tc.redis, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error creating config")
				assert.Nil(t, cfg, "expected nil config on error")
				return
			}

			assert.NoError(t, err, "expected no error creating config")
			assert.Equal(t, tc.addr, cfg.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, cfg.DatabaseDSN, "expected DSN to match")
			assert.Equal(t, tc.redis, cfg.RedisAddr, "expected redis address to match")
			assert.Equal(t, []byte("some_secret"), cfg.SigningKey, "expected decoded signing key")
			assert.Equal(t, tc.orig, cfg.AllowedOrigins, "expected allowed origins to match")
		})
	}
}
