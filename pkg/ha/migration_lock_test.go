package ha

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupLockDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Shared cache so every goroutine sees the same in-memory database.
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestNilDBRunsWithoutLocking(t *testing.T) {
	locker := NewMigrationLocker(nil)

	called := false
	err := locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestTableLockAcquireAndRelease(t *testing.T) {
	db := setupLockDB(t)
	locker := NewMigrationLocker(db)

	called := false
	err := locker.WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	var count int64
	require.NoError(t, db.Model(&migrationLockRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTableLockReleasedOnError(t *testing.T) {
	db := setupLockDB(t)
	locker := NewMigrationLocker(db)

	boom := errors.New("migration failed")
	err := locker.WithLock(context.Background(), func() error { return boom })
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&migrationLockRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestTableLockSerializes(t *testing.T) {
	db := setupLockDB(t)
	locker := NewMigrationLocker(db)

	var concurrent atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), func() error {
				cur := concurrent.Add(1)
				for {
					prev := peak.Load()
					if cur <= prev || peak.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				concurrent.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(1))
}

func TestTableLockHonorsContext(t *testing.T) {
	db := setupLockDB(t)
	locker := NewMigrationLocker(db)

	err := locker.WithLock(context.Background(), func() error {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		inner := locker.WithLock(ctx, func() error {
			t.Error("lock acquired while already held")
			return nil
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)
}
