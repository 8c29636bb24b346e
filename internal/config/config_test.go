package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("COMMISSION_MAX_HOPS", "")
	t.Setenv("COMMISSION_MISSING_POLICY", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg := LoadConfig()

	assert.Equal(t, "skip", cfg.MissingPolicy)
	assert.Equal(t, 10, cfg.MaxHops)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("COMMISSION_MAX_HOPS", "7")
	t.Setenv("COMMISSION_MISSING_POLICY", "escrow")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_PASSWORD", "p")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("DB_NAME", "mlm")

	cfg := LoadConfig()

	assert.Equal(t, 7, cfg.MaxHops)
	assert.Equal(t, "escrow", cfg.MissingPolicy)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "u:p@tcp(db:3307)/mlm?parseTime=true", cfg.DSN())
}
