package service

import (
	"askto-go/internal/repository"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repository.AutoMigrate(db))
	return db
}

type testStores struct {
	mr           *miniredis.Miniredis
	cache        repository.SessionCacheRepository
	identityRepo repository.IdentityRepository
	sessionRepo  repository.SessionRepository
	insightRepo  repository.InsightRepository
	identities   IdentityService
	insights     InsightService
	memory       MemoryService
}

func newTestStores(t *testing.T) *testStores {
	t.Helper()
	db := newTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := &testStores{
		mr:           mr,
		cache:        repository.NewSessionCacheRepository(rdb, 24*time.Hour, 2*time.Hour),
		identityRepo: repository.NewIdentityRepository(db),
		sessionRepo:  repository.NewSessionRepository(db),
		insightRepo:  repository.NewInsightRepository(db),
	}
	s.identities = NewIdentityService(s.identityRepo)
	s.insights = NewInsightService(s.insightRepo)
	s.memory = NewMemoryService(s.cache, s.identityRepo, s.sessionRepo, s.identities, s.insights, 20, 5)
	return s
}
