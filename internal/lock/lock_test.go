package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	got := normalize([]string{"topic:b", "team:a", "topic:b", "", "assignment:x"})
	assert.Equal(t, []string{"assignment:x", "team:a", "topic:b"}, got)
}

func TestLocalExcludes(t *testing.T) {
	l := NewLocal()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), TopicKey("t1"), TeamKey("x"))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
	assert.Empty(t, l.slots)
}

func TestLocalOverlappingKeysInAnyOrder(t *testing.T) {
	l := NewLocal()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "a", "b")
			if assert.NoError(t, err) {
				release()
			}
		}()
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "b", "a")
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock acquiring overlapping keys")
	}
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "b", "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	release2, err := l.Acquire(context.Background(), "a", "b")
	require.NoError(t, err)
	release2()
	assert.Empty(t, l.slots)
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("SIGNUP_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SIGNUP_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	r := NewRedis(client, "signup-test", time.Second, 5*time.Millisecond)

	release, err := r.Acquire(context.Background(), TopicKey("t1"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Acquire(ctx, TopicKey("t1"))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := r.Acquire(context.Background(), TopicKey("t1"))
	require.NoError(t, err)
	release2()
}

func TestImplementationsSatisfyLocker(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	lockers := map[string]Locker{
		"local": NewLocal(),
		"redis": NewRedis(client, "test", time.Second, time.Millisecond),
	}
	require.Len(t, lockers, 2)

	release, err := lockers["local"].Acquire(context.Background(), TopicKey("t1"), TeamKey("a"))
	require.NoError(t, err)
	release()
}
