package kafka

import (
	"askto-go/pkg/tasks"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	err   error
	tasks []tasks.MemoryWriteTask
}

func (p *fakeProcessor) Process(_ context.Context, task tasks.MemoryWriteTask) error {
	p.tasks = append(p.tasks, task)
	return p.err
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func encode(t *testing.T, task tasks.MemoryWriteTask) []byte {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return b
}

func TestHandleMessage_Success(t *testing.T) {
	mr, rdb := newRedis(t)
	require.NoError(t, mr.Set(attemptsKey("t1"), "2"))
	p := &fakeProcessor{}

	got := handleMessage(context.Background(), rdb, p, encode(t, tasks.MemoryWriteTask{TaskID: "t1", IdentityID: "id"}))
	assert.Equal(t, outcomeCommit, got)
	require.Len(t, p.tasks, 1)
	assert.Equal(t, "id", p.tasks[0].IdentityID)
	assert.False(t, mr.Exists(attemptsKey("t1")))
}

func TestHandleMessage_RetriesUntilMaxAttempts(t *testing.T) {
	mr, rdb := newRedis(t)
	p := &fakeProcessor{err: errors.New("db down")}
	msg := encode(t, tasks.MemoryWriteTask{TaskID: "t2", IdentityID: "id"})

	assert.Equal(t, outcomeRetry, handleMessage(context.Background(), rdb, p, msg))
	assert.Equal(t, outcomeRetry, handleMessage(context.Background(), rdb, p, msg))
	assert.Equal(t, outcomeCommit, handleMessage(context.Background(), rdb, p, msg))
	assert.Len(t, p.tasks, 3)

	v, err := mr.Get(attemptsKey("t2"))
	require.NoError(t, err)
	assert.Equal(t, "3", v)
	assert.True(t, mr.TTL(attemptsKey("t2")) > 0)
}

func TestHandleMessage_MalformedIsCommitted(t *testing.T) {
	_, rdb := newRedis(t)
	p := &fakeProcessor{}
	assert.Equal(t, outcomeCommit, handleMessage(context.Background(), rdb, p, []byte("{oops")))
	assert.Empty(t, p.tasks)
}

func TestHandleMessage_RedisDownRetries(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	p := &fakeProcessor{err: errors.New("db down")}
	got := handleMessage(context.Background(), rdb, p, encode(t, tasks.MemoryWriteTask{TaskID: "t3"}))
	assert.Equal(t, outcomeRetry, got)
}

func TestNextBackoffIsCapped(t *testing.T) {
	d := time.Second
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	assert.Equal(t, maxRetryBackoff, d)
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second))
	assert.Equal(t, maxRetryBackoff, nextBackoff(45*time.Second))
}
