package repository

import (
	"askto-go/internal/model"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityRepository_CreateOncePerHash(t *testing.T) {
	repo := NewIdentityRepository(newTestDB(t))
	ctx := context.Background()

	found, err := repo.FindByPhoneHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	first, created, err := repo.CreateWithProfile(ctx, "hash-1", "3210")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "3210", first.PhoneLastFour)

	second, created, err := repo.CreateWithProfile(ctx, "hash-1", "3210")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	profile, err := repo.GetProfile(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Empty(t, profile.PainPoints)
	assert.Empty(t, profile.SpendingPatterns)
}

func TestIdentityRepository_Update(t *testing.T) {
	repo := NewIdentityRepository(newTestDB(t))
	ctx := context.Background()
	identity, _, err := repo.CreateWithProfile(ctx, "hash-2", "1111")
	require.NoError(t, err)

	name := "Priya"
	city := "Bangalore"
	require.NoError(t, repo.Update(ctx, identity.ID, model.IdentityUpdate{Name: &name, Location: &city}))

	got, err := repo.FindByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Priya", got.Name)
	assert.Equal(t, "Bangalore", got.Location)
	assert.Empty(t, got.WorkStatus)
}

func TestIdentityRepository_MergeProfileIsIdempotent(t *testing.T) {
	repo := NewIdentityRepository(newTestDB(t))
	ctx := context.Background()
	identity, _, err := repo.CreateWithProfile(ctx, "hash-3", "2222")
	require.NoError(t, err)

	_, err = repo.MergeProfile(ctx, identity.ID, model.ProfileDelta{
		SpendingPatterns: map[string]interface{}{"order_frequency": "daily", "avg_order_value": 250.0},
		PainPoints:       []string{"annual_fee_concern"},
	})
	require.NoError(t, err)

	delta := model.ProfileDelta{
		SpendingPatterns: map[string]interface{}{"avg_order_value": 300.0},
		CurrentCards:     map[string]interface{}{"cards": []interface{}{"hdfc"}},
		PainPoints:       []string{"annual_fee_concern", "too_many_cards"},
	}
	once, err := repo.MergeProfile(ctx, identity.ID, delta)
	require.NoError(t, err)
	twice, err := repo.MergeProfile(ctx, identity.ID, delta)
	require.NoError(t, err)

	stored, err := repo.GetProfile(ctx, identity.ID)
	require.NoError(t, err)

	assert.Equal(t, []string(once.PainPoints), []string(twice.PainPoints))
	assert.Equal(t, []string{"annual_fee_concern", "too_many_cards"}, []string(stored.PainPoints))
	assert.Equal(t, "daily", stored.SpendingPatterns["order_frequency"])
	avg, ok := model.Facts(stored.SpendingPatterns).Float("avg_order_value")
	assert.True(t, ok)
	assert.Equal(t, 300.0, avg)
	assert.Equal(t, []interface{}{"hdfc"}, stored.CurrentCards["cards"])
}

func TestIdentityRepository_MergeProfileCreatesProfileForExistingIdentity(t *testing.T) {
	db := newTestDB(t)
	repo := NewIdentityRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Identity{ID: "orphan", PhoneHash: "hash-4"}).Error)

	merged, err := repo.MergeProfile(ctx, "orphan", model.ProfileDelta{
		Preferences: map[string]interface{}{"objections": []interface{}{"needs_time"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "orphan", merged.IdentityID)

	stored, err := repo.GetProfile(ctx, "orphan")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []interface{}{"needs_time"}, stored.Preferences["objections"])
}

func TestIdentityRepository_MergeProfileUnknownIdentity(t *testing.T) {
	db := newTestDB(t)
	repo := NewIdentityRepository(db)

	_, err := repo.MergeProfile(context.Background(), "no-such-identity", model.ProfileDelta{
		PainPoints: []string{"annual_fee_concern"},
	})
	assert.ErrorIs(t, err, ErrIdentityNotFound)

	var profiles int64
	require.NoError(t, db.Model(&model.Profile{}).Count(&profiles).Error)
	assert.Zero(t, profiles)
}
