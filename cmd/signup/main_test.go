package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupsheet/internal/config"
	"signupsheet/internal/domain"
)

func TestParseDue(t *testing.T) {
	got, err := parseDue("2024-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), got)

	got, err = parseDue("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC), got)

	_, err = parseDue("next week")
	assert.Error(t, err)
}

func TestParseDeadlineSpecs(t *testing.T) {
	inputs, err := parseDeadlineSpecs([]string{"drop=2024-05-01", "signup=2024-04-01T08:00:00Z"})
	require.NoError(t, err)
	require.Len(t, inputs, 2)
	assert.Equal(t, domain.DeadlineDrop, inputs[0].Type)
	assert.Equal(t, domain.DeadlineSignup, inputs[1].Type)

	_, err = parseDeadlineSpecs([]string{"drop"})
	assert.Error(t, err)
	_, err = parseDeadlineSpecs([]string{"=2024-05-01"})
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("log-level", "debug")
	viper.Set("lock-backend", config.LockRedis)
	viper.Set("redis-addr", "redis:6379")
	viper.Set("jwt-secret", "s3cret")
	viper.Set("kafka-brokers", "k1:9092,k2:9092")

	cfg := config.Default()
	applyOverrides(cfg)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, config.LockRedis, cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.NoError(t, cfg.Validate())
}

func TestCurrentActor(t *testing.T) {
	t.Cleanup(viper.Reset)
	viper.Set("actor-id", "ana")
	viper.Set("role", "Student")
	assert.Equal(t, domain.Actor{ID: "ana", Role: domain.RoleStudent}, currentActor())
}
