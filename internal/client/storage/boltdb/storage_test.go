package boltdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/iudanet/offsync/internal/client/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNew_Success(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "testdb.db")

	ctx := context.Background()
	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer func() {
		require.NoError(t, store.Close())
	}()

	// Проверяем что файл БД действительно создан
	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())

	// Проверяем, что бакеты существуют
	err = store.db.View(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketOffline, bucketMetadata} {
			if tx.Bucket(b) == nil {
				return os.ErrNotExist
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestNew_InvalidPath(t *testing.T) {
	ctx := context.Background()
	// Путь внутри несуществующего каталога
	invalidPath := filepath.Join(t.TempDir(), "missing", "dir", "db")
	store, err := New(ctx, invalidPath)
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestClose(t *testing.T) {
	store, err := New(context.Background(), filepath.Join(t.TempDir(), "testdb.db"))
	require.NoError(t, err)

	err = store.Close()
	assert.NoError(t, err)

	// После закрытия поле db должно стать nil
	assert.Nil(t, store.db)

	// Второй вызов Close не должен падать
	err = store.Close()
	assert.NoError(t, err)
}

func TestInitBuckets_CreatesBuckets(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "testdb.db")

	// Открываем БД вручную без создания бакетов
	db, err := bbolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	store := &Storage{db: db}

	err = store.initBuckets()
	assert.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketOffline, bucketMetadata} {
			if tx.Bucket(b) == nil {
				return os.ErrNotExist
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestSaveLoadRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	_, err := store.Load(ctx, storage.KeyPendingOperations)
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	require.NoError(t, store.Save(ctx, storage.KeyPendingOperations, []byte(`[{"id":"a"}]`)))

	data, err := store.Load(ctx, storage.KeyPendingOperations)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"a"}]`, string(data))

	// Перезапись заменяет значение целиком
	require.NoError(t, store.Save(ctx, storage.KeyPendingOperations, []byte(`[]`)))
	data, err = store.Load(ctx, storage.KeyPendingOperations)
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(data))

	require.NoError(t, store.Remove(ctx, storage.KeyPendingOperations))
	_, err = store.Load(ctx, storage.KeyPendingOperations)
	assert.ErrorIs(t, err, storage.ErrKeyNotFound)

	// Удаление отсутствующего ключа не ошибка
	assert.NoError(t, store.Remove(ctx, "missing"))
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "offline.db")

	store, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, storage.KeyCacheEntries, []byte(`{"k":1}`)))
	require.NoError(t, store.Close())

	reopened, err := New(ctx, dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	data, err := reopened.Load(ctx, storage.KeyCacheEntries)
	require.NoError(t, err)
	assert.Equal(t, `{"k":1}`, string(data))
}

func TestClosedStorage(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	require.NoError(t, store.Close())

	_, err := store.Load(ctx, "k")
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
	assert.ErrorIs(t, store.Save(ctx, "k", nil), storage.ErrStorageClosed)
	assert.ErrorIs(t, store.Remove(ctx, "k"), storage.ErrStorageClosed)
}
