package repository

import (
	"askto-go/internal/model"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionCache_MetadataRoundTrip(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.CreateSession(ctx, model.SessionMetadata{
		SessionID: "s1",
		Phase:     model.PhasePitch,
	}))

	meta, err := cache.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "s1", meta.SessionID)
	assert.Equal(t, model.PhasePitch, meta.Phase)
	assert.False(t, meta.IdentityVerified)
	assert.Equal(t, 0, meta.TurnCount)

	verified := true
	identityID := "id-1"
	lastFour := "3210"
	require.NoError(t, cache.UpdateMetadata(ctx, "s1", model.SessionMetadataUpdate{
		IdentityVerified: &verified,
		IdentityID:       &identityID,
		PhoneLastFour:    &lastFour,
	}))

	meta, err = cache.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, meta.IdentityVerified)
	assert.Equal(t, "id-1", meta.IdentityID)
	assert.Equal(t, "3210", meta.PhoneLastFour)
	assert.Equal(t, model.PhasePitch, meta.Phase)
}

func TestSessionCache_MissingSessionIsAbsent(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	meta, err := cache.GetMetadata(ctx, "never-created")
	require.NoError(t, err)
	assert.Nil(t, meta)

	turns, err := cache.ListTurns(ctx, "never-created", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	payload, err := cache.GetContext(ctx, "never-created")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestSessionCache_TurnCountMatchesListLength(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.CreateSession(ctx, model.SessionMetadata{SessionID: "s1", Phase: model.PhaseDiscovery}))

	for i := 1; i <= 7; i++ {
		role := model.RoleUser
		if i%2 == 0 {
			role = model.RoleAssistant
		}
		n, err := cache.AppendTurn(ctx, "s1", model.ChatMessage{Role: role, Content: fmt.Sprintf("msg %d", i)})
		require.NoError(t, err)
		assert.Equal(t, i, n)

		turns, err := cache.ListTurns(ctx, "s1", 0)
		require.NoError(t, err)
		meta, err := cache.GetMetadata(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, len(turns), meta.TurnCount)
	}

	last, err := cache.ListTurns(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "msg 6", last[0].Content)
	assert.Equal(t, "msg 7", last[1].Content)
}

func TestSessionCache_RecreateKeepsCountConsistent(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.CreateSession(ctx, model.SessionMetadata{SessionID: "s1"}))
	_, err := cache.AppendTurn(ctx, "s1", model.ChatMessage{Role: model.RoleUser, Content: "hi"})
	require.NoError(t, err)

	require.NoError(t, cache.CreateSession(ctx, model.SessionMetadata{SessionID: "s1", Phase: model.PhaseObjection}))

	meta, err := cache.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, meta.TurnCount)
	assert.Equal(t, model.PhaseObjection, meta.Phase)
}

func TestSessionCache_ExpiresAfterTTL(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.CreateSession(ctx, model.SessionMetadata{SessionID: "s1"}))
	_, err := cache.AppendTurn(ctx, "s1", model.ChatMessage{Role: model.RoleUser, Content: "hello"})
	require.NoError(t, err)

	mr.FastForward(23 * time.Hour)
	meta, err := cache.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, meta)

	// 写操作刷新整组 key 的 TTL
	_, err = cache.AppendTurn(ctx, "s1", model.ChatMessage{Role: model.RoleAssistant, Content: "hi"})
	require.NoError(t, err)
	mr.FastForward(23 * time.Hour)
	meta, err = cache.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 2, meta.TurnCount)

	mr.FastForward(25 * time.Hour)
	meta, err = cache.GetMetadata(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, meta)
	turns, err := cache.ListTurns(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestSessionCache_ContextUsesShorterTTL(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetContext(ctx, "s1", []byte(`{"phase":"pitch"}`)))
	payload, err := cache.GetContext(ctx, "s1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"pitch"}`, string(payload))

	mr.FastForward(2*time.Hour + time.Second)
	payload, err = cache.GetContext(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestSessionCache_DeleteAll(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, cache.CreateSession(ctx, model.SessionMetadata{SessionID: "s1"}))
	_, err := cache.AppendTurn(ctx, "s1", model.ChatMessage{Role: model.RoleUser, Content: "x"})
	require.NoError(t, err)
	require.NoError(t, cache.SetContext(ctx, "s1", []byte("{}")))

	require.NoError(t, cache.DeleteAll(ctx, "s1"))

	assert.False(t, mr.Exists("session:s1"))
	assert.False(t, mr.Exists("session:s1:messages"))
	assert.False(t, mr.Exists("session:s1:context"))
}

func TestSessionCache_ActiveSession(t *testing.T) {
	_, cache := newTestCache(t)
	ctx := context.Background()

	id, err := cache.GetActiveSession(ctx, "identity-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, cache.SetActiveSession(ctx, "identity-1", "s9"))
	id, err = cache.GetActiveSession(ctx, "identity-1")
	require.NoError(t, err)
	assert.Equal(t, "s9", id)
}

func TestSessionCache_TurnLock(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	ok, err := cache.AcquireTurnLock(ctx, "s1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.AcquireTurnLock(ctx, "s1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者释放不生效
	require.NoError(t, cache.ReleaseTurnLock(ctx, "s1", "owner-b"))
	assert.True(t, mr.Exists("session:s1:lock"))

	require.NoError(t, cache.ReleaseTurnLock(ctx, "s1", "owner-a"))
	ok, err = cache.AcquireTurnLock(ctx, "s1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = cache.AcquireTurnLock(ctx, "s1", "owner-c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionCache_RenewTurnLock(t *testing.T) {
	mr, cache := newTestCache(t)
	ctx := context.Background()

	ok, err := cache.AcquireTurnLock(ctx, "s1", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(50 * time.Second)
	ok, err = cache.RenewTurnLock(ctx, "s1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("session:s1:lock"))

	// 续期后超过最初的 TTL 仍然持有
	mr.FastForward(50 * time.Second)
	ok, err = cache.AcquireTurnLock(ctx, "s1", "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// 非持有者不能续期
	ok, err = cache.RenewTurnLock(ctx, "s1", "owner-b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, mr.TTL("session:s1:lock"))

	// 锁过期后续期失败
	mr.FastForward(time.Minute)
	ok, err = cache.RenewTurnLock(ctx, "s1", "owner-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
