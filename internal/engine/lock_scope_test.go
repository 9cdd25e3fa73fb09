package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signupsheet/internal/db"
	"signupsheet/internal/domain"
	"signupsheet/internal/lock"
	"signupsheet/internal/migrate"
)

// growingLocker records every acquisition and runs grow while the keys are
// held, so the team's sign-ups can change between two reads.
type growingLocker struct {
	inner    lock.Locker
	acquired [][]string
	grow     func()
}

func (l *growingLocker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	release, err := l.inner.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	l.acquired = append(l.acquired, append([]string(nil), keys...))
	if l.grow != nil {
		l.grow()
	}
	return release, nil
}

func TestLockTeamScopeCoversEveryHeldTopic(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := New(conn)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return at }
	ctx := context.Background()
	prof := domain.Actor{ID: "prof", Role: domain.RoleInstructor}

	a, err := e.CreateAssignment(ctx, prof, AssignmentOptions{ID: "asg", Name: "Project"})
	require.NoError(t, err)
	_, err = e.CreateTeam(ctx, prof, TeamOptions{ID: "team-a", AssignmentID: a.ID, Name: "A"})
	require.NoError(t, err)
	for i := 0; i <= 6; i++ {
		_, err := e.CreateTopic(ctx, prof, a.ID, TopicAttrs{ID: fmt.Sprintf("topic-%d", i), Name: fmt.Sprintf("Topic %d", i), Capacity: 1})
		require.NoError(t, err)
	}

	// each of the first five acquisitions sees the team waitlist on one more topic
	next := 1
	locker := &growingLocker{inner: lock.NewLocal()}
	locker.grow = func() {
		if next > 5 {
			return
		}
		topicID := fmt.Sprintf("topic-%d", next)
		next++
		pos, err := e.Repo.NextQueuePos(ctx, nil, topicID)
		require.NoError(t, err)
		require.NoError(t, e.Repo.InsertSignUp(ctx, nil, domain.SignUp{
			ID: newID(), AssignmentID: a.ID, TeamID: "team-a", TopicID: topicID,
			IsWaitlisted: true, QueuePos: pos, Source: domain.SourceStudent, CreatedAt: at.Format(time.RFC3339),
		}))
	}
	e.Locker = locker

	res, err := e.InstructorAssign(ctx, prof, "team-a", "topic-0", at)
	require.NoError(t, err)
	assert.Len(t, res.Evicted, 5)
	require.Len(t, locker.acquired, 6)
	final := locker.acquired[len(locker.acquired)-1]
	for i := 0; i <= 5; i++ {
		assert.Contains(t, final, lock.TopicKey(fmt.Sprintf("topic-%d", i)))
	}
	assert.Contains(t, final, lock.TeamKey("team-a"))
}

func TestLockTeamScopeStopsOnCancelledContext(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	e := New(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.lockTeamScope(ctx, "instructor assign", "team-a", "topic-0")
	require.ErrorIs(t, err, context.Canceled)
}
