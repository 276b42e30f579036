package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TEACHER_EMAIL", "")
	t.Setenv("STORE_BACKEND", "")
	cfg := Load()
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, "professor@exemplo.com", cfg.TeacherEmail)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STATS_TTL", "30s")
	t.Setenv("RATE_LIMIT_PER_MIN", "5")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")
	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.StatsTTL)
	assert.Equal(t, 5, cfg.RateLimitPerMin)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestBadValuesFallBack(t *testing.T) {
	t.Setenv("STATS_TTL", "soon")
	t.Setenv("RATE_LIMIT_PER_MIN", "many")
	cfg := Load()
	assert.Equal(t, 10*time.Minute, cfg.StatsTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, App{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "UTC", App{Timezone: "UTC"}.Location().String())
}
