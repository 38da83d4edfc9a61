package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/internal/client/connectivity"
	"github.com/iudanet/offsync/internal/client/transport"
	"github.com/iudanet/offsync/internal/config"
	"github.com/iudanet/offsync/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fileConfig() *config.Config {
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendFile
	cfg.Storage.Path = "/data"
	cfg.Sync.SendInterval = 0
	return cfg
}

func failingTransport() *transport.TransportMock {
	return &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			return transport.Result{}, errors.New("connection refused")
		},
		FetchFunc: func(ctx context.Context, collection, id string) (*models.Value, error) {
			return nil, errors.New("connection refused")
		},
	}
}

// TestNew_RestoresAfterRestart проверяет что очередь и локальные записи переживают перезапуск
func TestNew_RestoresAfterRestart(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	cfg := fileConfig()
	offline := connectivity.NewManualSignal(connectivity.Status{Online: false, Quality: connectivity.QualityUnknown})

	a, err := New(ctx, cfg, testLogger(),
		WithFs(fs), WithTransport(failingTransport()), WithSignal(offline))
	require.NoError(t, err)
	assert.False(t, a.Monitor.Online())

	id, err := a.Driver.Write(ctx, models.PendingOperation{
		Kind:             models.OperationCreate,
		TargetCollection: "trips",
		Payload:          models.Object(map[string]models.Value{"name": models.String("Kyiv")}),
		Priority:         models.PriorityNormal,
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// Второй запуск на той же файловой системе
	b, err := New(ctx, cfg, testLogger(),
		WithFs(fs), WithTransport(failingTransport()), WithSignal(offline))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 1, b.Queue.Len())

	value, ok, err := b.Driver.Read(ctx, "trips", id)
	require.NoError(t, err)
	require.True(t, ok)
	name, _ := value.Field("name")
	assert.Equal(t, models.String("Kyiv"), name)
}

// TestNew_EncryptedStore проверяет шифрование хранилища паролем
func TestNew_EncryptedStore(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	cfg := fileConfig()
	cfg.Storage.Encrypt = true

	prompted := 0
	prompt := func() (string, error) {
		prompted++
		return "correct horse battery staple", nil
	}

	a, err := New(ctx, cfg, testLogger(), WithFs(fs), WithTransport(failingTransport()),
		WithSignal(connectivity.NewManualSignal(connectivity.Status{Online: false})),
		WithPassphrasePrompt(prompt))
	require.NoError(t, err)
	assert.Equal(t, 1, prompted)

	_, err = a.Driver.Write(ctx, models.PendingOperation{
		Kind:             models.OperationUpdate,
		TargetCollection: "notes",
		TargetID:         "n1",
		Payload:          models.Object(map[string]models.Value{"text": models.String("top secret")}),
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// На диске нет открытого текста
	files, err := afero.ReadDir(fs, "/data")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		data, err := afero.ReadFile(fs, filepath.Join("/data", f.Name()))
		require.NoError(t, err)
		assert.NotContains(t, string(data), "top secret")
	}
}

// TestNew_EncryptionWithoutPassphrase проверяет отказ без пароля
func TestNew_EncryptionWithoutPassphrase(t *testing.T) {
	cfg := fileConfig()
	cfg.Storage.Encrypt = true

	_, err := New(context.Background(), cfg, testLogger(),
		WithFs(afero.NewMemMapFs()), WithTransport(failingTransport()))
	assert.ErrorContains(t, err, "passphrase")
}

// TestNew_BoltBackend проверяет сборку с BoltDB и время последней синхронизации
func TestNew_BoltBackend(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "offsync.db")
	cfg.Sync.SendInterval = 0

	tr := &transport.TransportMock{
		SendFunc: func(ctx context.Context, op models.PendingOperation) (transport.Result, error) {
			return transport.Result{EntityID: op.TargetID}, nil
		},
	}

	a, err := New(ctx, cfg, testLogger(), WithTransport(tr))
	require.NoError(t, err)
	defer a.Close()

	// Без сигнала считаем, что связь есть: запись уходит сразу
	_, err = a.Driver.Write(ctx, models.PendingOperation{
		Kind:             models.OperationUpdate,
		TargetCollection: "costs",
		TargetID:         "c1",
		Payload:          models.Object(map[string]models.Value{"value": models.Number(12.5)}),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, a.Queue.Len())
	assert.Len(t, tr.SendCalls(), 1)

	last, err := a.Driver.LastSyncTime(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

// TestNew_InvalidRulesFile проверяет ошибку при битом файле правил
func TestNew_InvalidRulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: [unclosed"), 0o600))

	cfg := fileConfig()
	cfg.Conflict.RulesFile = path

	_, err := New(context.Background(), cfg, testLogger(),
		WithFs(afero.NewMemMapFs()), WithTransport(failingTransport()))
	assert.Error(t, err)
}

// TestRun_StopsOnCancel проверяет остановку фоновых циклов
func TestRun_StopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), fileConfig(), testLogger(),
		WithFs(afero.NewMemMapFs()), WithTransport(failingTransport()))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
