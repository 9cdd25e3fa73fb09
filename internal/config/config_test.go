package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, LockLocal, cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 2*time.Second, cfg.Kafka.PollInterval)
	assert.False(t, cfg.Kafka.Enabled)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	data := []byte("lock:\n  backend: redis\n  redis:\n    addr: redis:6379\nkafka:\n  enabled: true\n  brokers: [k1:9092, k2:9092]\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "signup.yml"), data, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, "redis:6379", cfg.Lock.Redis.Addr)
	assert.Equal(t, "signup", cfg.Lock.Redis.Prefix)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "signup.events", cfg.Kafka.Topic)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown lock backend": "lock:\n  backend: etcd\n",
		"redis without addr":   "lock:\n  backend: redis\n  redis:\n    addr: \"\"\n",
		"kafka without topic":  "kafka:\n  enabled: true\n  topic: \"\"\n",
		"bad base path":        "server:\n  base_path: v1\n",
		"bad log level":        "log:\n  level: loud\n",
		"broken yaml":          "server: [\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
