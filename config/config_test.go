package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venue/config"
)

func setRequired(t *testing.T) {
	t.Setenv("POSTGRES_URL", "postgres://localhost/venue")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("GATEWAY_ADDR", "http://localhost:8888")
	t.Setenv("AUTH_SECRET", "auth")
	t.Setenv("TICKET_SECRET", "ticket")
}

func TestLoad_defaults(t *testing.T) {
	setRequired(t)

	cfg, err := config.Load(nil, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "IDR", cfg.Currency)
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, 3, cfg.GatewayMaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2*time.Hour, cfg.TicketEarlyEntry)
	assert.Equal(t, 20, cfg.MaxTicketsPerBooking)
	assert.False(t, cfg.AdminCancelReleasesCapacity)
	assert.False(t, cfg.TicketSingleUse)
}

func TestLoad_envFileAndFlags(t *testing.T) {
	setRequired(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("VENUE_TIMEZONE=Asia/Jakarta\nCURRENCY_EXPONENT=2\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("VENUE_TIMEZONE")
		os.Unsetenv("CURRENCY_EXPONENT")
	})

	cfg, err := config.Load([]string{"--http-addr", ":9090", "--ticket-single-use"}, envFile)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.True(t, cfg.TicketSingleUse)
	assert.Equal(t, 2, cfg.CurrencyExponent)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
}

func TestLoad_invalidTimezone(t *testing.T) {
	setRequired(t)
	t.Setenv("VENUE_TIMEZONE", "Mars/Olympus")

	_, err := config.Load(nil, filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestLoad_missingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("AUTH_SECRET", "")

	_, err := config.Load(nil, filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "AUTH_SECRET")
}
