package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/lock"
	"github.com/DukeRupert/panelcheck/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingStore tracks the peak number of concurrent Get calls.
type countingStore struct {
	storage.Storage
	mu       sync.Mutex
	inFlight int
	peak     int
}

func (c *countingStore) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	c.mu.Lock()
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
	}()
	return c.Storage.Get(ctx, key)
}

type fixture struct {
	catalog *catalog.MemoryCatalog
	store   *storage.LocalStorage
	locker  *lock.Locker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	cat := catalog.NewMemoryCatalog()
	cat.AddProject(catalog.Project{ID: 1, Name: "north field"})
	return &fixture{
		catalog: cat,
		store:   store,
		locker:  lock.New(store, lock.Config{}, testLogger()),
	}
}

func (f *fixture) addImage(t *testing.T, kind domain.ImageKind, name, body string) {
	t.Helper()
	key := storage.ImageKey(1, name)
	if body != "" {
		require.NoError(t, f.store.Put(context.Background(), key, strings.NewReader(body), storage.PutOptions{}))
	}
	f.catalog.AddImage(domain.Image{ProjectID: 1, Kind: kind, Filename: name, StorageKey: key})
}

func readZip(t *testing.T, store storage.Storage, key string) map[string]string {
	t.Helper()
	rc, _, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		r, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		r.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestService_Regenerate(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, domain.ImageKindRGB, "a.jpg", "rgb-a")
	f.addImage(t, domain.ImageKindThermal, "b.tif", "thermal-b")
	f.addImage(t, domain.ImageKindThermal, "gone.tif", "")

	svc := NewService(f.catalog, f.store, f.locker, Config{ReadConcurrency: 2}, testLogger())
	result, err := svc.Regenerate(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "archives/project-1/images.zip", result.Key)
	assert.Equal(t, 2, result.Images)
	assert.Equal(t, 1, result.Missing)
	assert.Positive(t, result.Bytes)

	entries := readZip(t, f.store, result.Key)
	var names []string
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"RGB/1_a.jpg", "THERMAL/2_b.tif"}, names)
	assert.Equal(t, "thermal-b", entries["THERMAL/2_b.tif"])

	exists, err := f.store.Exists(context.Background(), "archives/project-1.lock")
	require.NoError(t, err)
	assert.False(t, exists, "lock marker released after success")
}

func TestService_RegenerateOverwritesPreviousArchive(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, domain.ImageKindRGB, "a.jpg", "rgb-a")
	svc := NewService(f.catalog, f.store, f.locker, Config{}, testLogger())

	_, err := svc.Regenerate(context.Background(), 1)
	require.NoError(t, err)

	f.addImage(t, domain.ImageKindRGB, "c.jpg", "rgb-c")
	result, err := svc.Regenerate(context.Background(), 1)
	require.NoError(t, err)

	assert.Len(t, readZip(t, f.store, result.Key), 2)
}

func TestService_RegenerateSkipsWhenLocked(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, domain.ImageKindRGB, "a.jpg", "rgb-a")

	other := lock.New(f.store, lock.Config{}, testLogger())
	ok, err := other.TryAcquire(context.Background(), storage.ArchiveResource(1))
	require.NoError(t, err)
	require.True(t, ok)

	svc := NewService(f.catalog, f.store, f.locker, Config{}, testLogger())
	_, err = svc.Regenerate(context.Background(), 1)
	assert.ErrorIs(t, err, ErrSkipped)

	exists, err := f.store.Exists(context.Background(), storage.ArchiveKey(1))
	require.NoError(t, err)
	assert.False(t, exists)

	// The holder's marker survives the skipped attempt.
	exists, err = f.store.Exists(context.Background(), "archives/project-1.lock")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestService_RegenerateEmptyProjectDropsArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Put(ctx, storage.ArchiveKey(1), strings.NewReader("stale"), storage.PutOptions{}))

	svc := NewService(f.catalog, f.store, f.locker, Config{}, testLogger())
	result, err := svc.Regenerate(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, result.Key)

	exists, err := f.store.Exists(ctx, storage.ArchiveKey(1))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestService_ReadConcurrencyBounded(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 12; i++ {
		f.addImage(t, domain.ImageKindThermal, "img.tif", "data")
	}
	counting := &countingStore{Storage: f.store}

	svc := NewService(f.catalog, counting, f.locker, Config{ReadConcurrency: 3}, testLogger())
	result, err := svc.Regenerate(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 12, result.Images)
	assert.LessOrEqual(t, counting.peak, 3)
	assert.GreaterOrEqual(t, counting.peak, 1)
}

func TestService_TriggerAndWait(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, domain.ImageKindRGB, "a.jpg", "rgb-a")
	svc := NewService(f.catalog, f.store, f.locker, Config{}, testLogger())

	svc.Trigger(1)
	svc.Trigger(1)
	svc.Wait()

	exists, err := f.store.Exists(context.Background(), storage.ArchiveKey(1))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.store.Exists(context.Background(), "archives/project-1.lock")
	require.NoError(t, err)
	assert.False(t, exists)
}
