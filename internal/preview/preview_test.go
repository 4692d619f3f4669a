package preview

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kapnodes/kapimage/internal/events"
	"github.com/kapnodes/kapimage/internal/folders"
	"github.com/kapnodes/kapimage/internal/workers"
	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Set(zap.NewNop())
	os.Exit(m.Run())
}

type mockConverter struct {
	mock.Mock
}

func (m *mockConverter) Convert(ctx context.Context, src, dst string) error {
	args := m.Called(ctx, src, dst)
	return args.Error(0)
}

func newTestGenerator(t *testing.T, conv Converter) (*Generator, *folders.Roots, *events.Hub) {
	t.Helper()
	base := t.TempDir()
	roots, err := folders.NewRoots(filepath.Join(base, "input"), filepath.Join(base, "output"), filepath.Join(base, "temp"))
	require.NoError(t, err)
	hub := events.NewHub(4)
	pool := workers.NewPool(workers.PoolConfig{MaxWorkers: 2, Timeout: 5 * time.Second})
	return NewGenerator(roots, pool, hub, Config{Converter: conv, Timeout: 5 * time.Second}), roots, hub
}

func TestPreviewName(t *testing.T) {
	name, ok := PreviewName("/work/a.PNG")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(name, "preview_"))
	assert.True(t, strings.HasSuffix(name, ".png"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(name, "preview_"), ".png"), 32)

	again, _ := PreviewName("/work/a.PNG")
	assert.Equal(t, name, again)

	other, _ := PreviewName("/work/./a.PNG")
	assert.NotEqual(t, name, other, "names hash the submitted string, not the resolved path")

	layered, ok := PreviewName("~/art/poster.psd")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(layered, ".png"))

	_, ok = PreviewName("/work/notes.txt")
	assert.False(t, ok)
}

func TestGenerateCopiesRasterImages(t *testing.T) {
	gen, roots, _ := newTestGenerator(t, &mockConverter{})
	src := filepath.Join(t.TempDir(), "image.webp")
	require.NoError(t, os.WriteFile(src, []byte("webp bytes"), 0644))

	name, _ := PreviewName(src)
	require.NoError(t, os.MkdirAll(filepath.Join(roots.Temp, name, "junk"), 0755))

	res, err := gen.Generate(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.Converted)
	assert.Equal(t, name, res.PreviewFilename)
	assert.Equal(t, filepath.Join(roots.Temp, name), res.PreviewFilepath)

	data, err := os.ReadFile(res.PreviewFilepath)
	require.NoError(t, err)
	assert.Equal(t, "webp bytes", string(data))
}

func TestGenerateConvertsLayeredImages(t *testing.T) {
	conv := &mockConverter{}
	gen, roots, _ := newTestGenerator(t, conv)
	src := filepath.Join(t.TempDir(), "poster.psd")
	require.NoError(t, os.WriteFile(src, []byte("8BPS"), 0644))

	name, _ := PreviewName(src)
	dst := filepath.Join(roots.Temp, name)
	conv.On("Convert", mock.Anything, src, dst).Return(nil).Run(func(args mock.Arguments) {
		require.NoError(t, os.WriteFile(dst, []byte("png"), 0644))
	}).Once()

	res, err := gen.Generate(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Converted)
	assert.Equal(t, ".png", filepath.Ext(res.PreviewFilename))
	conv.AssertExpectations(t)
}

func TestGenerateReportsConverterFailure(t *testing.T) {
	conv := &mockConverter{}
	gen, _, _ := newTestGenerator(t, conv)
	src := filepath.Join(t.TempDir(), "scene.xcf")
	require.NoError(t, os.WriteFile(src, []byte("gimp xcf"), 0644))

	conv.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("exit status 1"))

	res, err := gen.Generate(context.Background(), src)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.True(t, kaperrors.IsExternalToolError(err))
}

func TestGenerateRejectsMissingAndUnsupported(t *testing.T) {
	gen, _, _ := newTestGenerator(t, &mockConverter{})
	dir := t.TempDir()

	_, err := gen.Generate(context.Background(), filepath.Join(dir, "missing.png"))
	assert.True(t, kaperrors.IsNotFoundError(err))

	_, err = gen.Generate(context.Background(), dir)
	assert.True(t, kaperrors.IsNotFoundError(err))

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hi"), 0644))
	res, err := gen.Generate(context.Background(), txt)
	require.Error(t, err)
	assert.False(t, res.Success)

	_, err = gen.Generate(context.Background(), "")
	assert.True(t, kaperrors.IsClientInputError(err))
}

func TestGenerateExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "pic.gif"), []byte("GIF89a"), 0644))

	gen, _, _ := newTestGenerator(t, &mockConverter{})
	res, err := gen.Generate(context.Background(), "~/pic.gif")
	require.NoError(t, err)

	expected, _ := PreviewName("~/pic.gif")
	assert.Equal(t, expected, res.PreviewFilename)
}

func TestConcurrentGenerationsAreCollapsed(t *testing.T) {
	release := make(chan struct{})
	conv := &mockConverter{}
	gen, _, _ := newTestGenerator(t, conv)
	src := filepath.Join(t.TempDir(), "big.psd")
	require.NoError(t, os.WriteFile(src, []byte("8BPS"), 0644))

	var calls int
	var mu sync.Mutex
	conv.On("Convert", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		require.NoError(t, os.WriteFile(args.String(2), []byte("png"), 0644))
	})

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gen.Generate(context.Background(), src)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, calls, 3)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestNotifyPublishesOnlyExistingPreviews(t *testing.T) {
	gen, roots, hub := newTestGenerator(t, &mockConverter{})
	ch, cancel := hub.Subscribe()
	defer cancel()

	assert.False(t, gen.Notify("/a.png", "preview_missing.png"))

	require.NoError(t, os.WriteFile(filepath.Join(roots.Temp, "preview_x.png"), []byte("p"), 0644))
	assert.True(t, gen.Notify("~/a.png", "preview_x.png"))

	msg := <-ch
	assert.Equal(t, models.EventTypeUpdatePreview, msg.Type)
	assert.Equal(t, models.PreviewEvent{Path: "~/a.png", PreviewFilename: "preview_x.png", PreviewType: "temp"}, msg.Data)
}

func TestRegenerateNotifiesWithSubmittedPath(t *testing.T) {
	gen, _, hub := newTestGenerator(t, &mockConverter{})
	ch, cancel := hub.Subscribe()
	defer cancel()

	src := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(src, []byte("jpeg"), 0644))

	gen.Regenerate(models.WatchEntry{Path: src, Source: src}, *models.NewChangeEvent(models.ChangeTypeModify, src))

	msg := <-ch
	assert.Equal(t, src, msg.Data.Path)
	name, _ := PreviewName(src)
	assert.Equal(t, name, msg.Data.PreviewFilename)
}

func TestExecConverterFailures(t *testing.T) {
	assert.NotEmpty(t, DefaultExecutable())
	if runtime.GOOS == "windows" {
		assert.Equal(t, "magick", DefaultExecutable())
	} else {
		assert.Equal(t, "convert", DefaultExecutable())
	}

	conv := NewExecConverter("kapimage-no-such-converter")
	err := conv.Convert(context.Background(), "in.psd", "out.png")
	require.Error(t, err)
	assert.True(t, kaperrors.IsExternalToolError(err))
}
