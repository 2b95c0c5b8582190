package upload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/DukeRupert/panelcheck/internal/catalog"
	"github.com/DukeRupert/panelcheck/internal/domain"
	"github.com/DukeRupert/panelcheck/internal/storage"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingArchiver struct {
	mu       sync.Mutex
	projects []int64
}

func (a *recordingArchiver) Trigger(projectID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.projects = append(a.projects, projectID)
}

type failingProcessor struct{}

func (failingProcessor) GenerateThumbnail(io.Reader, int, int) ([]byte, int, int, error) {
	return nil, 0, 0, errors.New("corrupt image")
}

type fixture struct {
	catalog  *catalog.MemoryCatalog
	store    *storage.LocalStorage
	archiver *recordingArchiver
	svc      *Service
}

func newFixture(t *testing.T, thumbnails ThumbnailProcessor) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewLocalStorage(storage.LocalConfig{
		BasePath: t.TempDir(),
		BaseURL:  "http://localhost:8080/files",
	}, logger)
	require.NoError(t, err)

	cat := catalog.NewMemoryCatalog()
	cat.AddProject(catalog.Project{ID: 1, Name: "north field"})

	f := &fixture{catalog: cat, store: store, archiver: &recordingArchiver{}}
	f.svc = NewService(cat, store, thumbnails, f.archiver, logger)
	return f
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 80, B: 20, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func TestThumbnailKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{key: "projects/1/images/abc.tif", want: "projects/1/thumbnails/abc.jpg"},
		{key: "projects/12/images/abc.JPEG", want: "projects/12/thumbnails/abc.jpg"},
		{key: "projects/3/images/abc", want: "projects/3/thumbnails/abc.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, ThumbnailKey(tt.key))
		})
	}
}

func TestImagingProcessor_GenerateThumbnail(t *testing.T) {
	thumb, w, h, err := NewImagingProcessor().GenerateThumbnail(bytes.NewReader(pngBytes(t, 1280, 640)), 320, 320)
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 640, h)

	decoded, format, err := image.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 320, decoded.Bounds().Dx())
	assert.Equal(t, 160, decoded.Bounds().Dy())

	_, _, _, err = NewImagingProcessor().GenerateThumbnail(strings.NewReader("not an image"), 320, 320)
	assert.Error(t, err)
}

func TestService_Upload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, NewImagingProcessor())

	img, err := f.svc.Upload(ctx, 1, domain.ImageKindRGB, "DJI_0001.png", bytes.NewReader(pngBytes(t, 64, 48)))
	require.NoError(t, err)
	assert.Equal(t, domain.ImageAnalysisStatusPending, img.AnalysisStatus)
	assert.Equal(t, "DJI_0001.png", img.Filename)
	assert.True(t, strings.HasPrefix(img.StorageKey, "projects/1/images/"))

	ok, err := f.store.Exists(ctx, img.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.Exists(ctx, ThumbnailKey(img.StorageKey))
	require.NoError(t, err)
	assert.True(t, ok)

	listed, err := f.catalog.ListImages(ctx, 1, domain.ImageKindRGB)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	assert.Equal(t, []int64{1}, f.archiver.projects)
}

func TestService_UploadWithoutThumbnail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failingProcessor{})

	img, err := f.svc.Upload(ctx, 1, domain.ImageKindThermal, "frame.tif", strings.NewReader("radiometric payload"))
	require.NoError(t, err)

	ok, err := f.store.Exists(ctx, img.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.store.Exists(ctx, ThumbnailKey(img.StorageKey))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestService_UploadErrors(t *testing.T) {
	tests := []struct {
		name      string
		projectID int64
		kind      domain.ImageKind
		filename  string
		data      io.Reader
		wantCode  string
	}{
		{name: "unknown kind", projectID: 1, kind: "LIDAR", filename: "a.jpg", data: strings.NewReader("x"), wantCode: domain.EINVALID},
		{name: "bad extension", projectID: 1, kind: domain.ImageKindRGB, filename: "a.gif", data: strings.NewReader("x"), wantCode: domain.EINVALID},
		{name: "empty body", projectID: 1, kind: domain.ImageKindRGB, filename: "a.jpg", data: strings.NewReader(""), wantCode: domain.EINVALID},
		{name: "too large", projectID: 1, kind: domain.ImageKindRGB, filename: "a.jpg", data: io.LimitReader(zeroReader{}, MaxImageSize+1), wantCode: domain.EINVALID},
		{name: "unknown project", projectID: 7, kind: domain.ImageKindRGB, filename: "a.jpg", data: strings.NewReader("x"), wantCode: domain.ENOTFOUND},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, failingProcessor{})
			_, err := f.svc.Upload(context.Background(), tt.projectID, tt.kind, tt.filename, tt.data)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.ErrorCode(err))
			assert.Empty(t, f.archiver.projects)
		})
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, NewImagingProcessor())

	img, err := f.svc.Upload(ctx, 1, domain.ImageKindRGB, "a.png", bytes.NewReader(pngBytes(t, 32, 32)))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, 1, img.ID))

	for _, key := range []string{img.StorageKey, ThumbnailKey(img.StorageKey)} {
		ok, err := f.store.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, key)
	}
	assert.Equal(t, []int64{1, 1}, f.archiver.projects)

	err = f.svc.Delete(ctx, 1, img.ID)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}
