package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupsheet/internal/config"
	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
	"signupsheet/internal/lock"
	"signupsheet/internal/migrate"
)

func TestOpenBuildsWorkingEngine(t *testing.T) {
	ctx := context.Background()
	a, err := Open(ctx, t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	v, err := migrate.Version(ctx, a.DB)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.IsType(t, &lock.Local{}, a.Engine.Locker)

	prof := domain.Actor{ID: "prof", Role: domain.RoleInstructor}
	asg, err := a.Engine.CreateAssignment(ctx, prof, engine.AssignmentOptions{Name: "Project"})
	require.NoError(t, err)
	got, err := a.Engine.GetAssignment(ctx, asg.ID)
	require.NoError(t, err)
	assert.Equal(t, "prof", got.InstructorID)

	relay, err := a.Relay()
	require.NoError(t, err)
	assert.Nil(t, relay)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Lock.Backend = "zookeeper"
	_, err := Open(context.Background(), t.TempDir(), cfg)
	require.Error(t, err)
}

func TestRelayWhenKafkaEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Kafka.Enabled = true
	a, err := Open(context.Background(), t.TempDir(), cfg)
	require.NoError(t, err)
	defer a.Close()

	relay, err := a.Relay()
	require.NoError(t, err)
	require.NotNil(t, relay)
	assert.Equal(t, cfg.Kafka.PollInterval, relay.Interval)
}
