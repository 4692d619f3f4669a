package nodes

import (
	"context"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/kapnodes/kapimage/internal/folders"
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

func newRoots(t *testing.T) *folders.Roots {
	t.Helper()
	base := t.TempDir()
	roots, err := folders.NewRoots(filepath.Join(base, "input"), filepath.Join(base, "output"), filepath.Join(base, "temp"))
	require.NoError(t, err)
	return roots
}

func writePNG(t *testing.T, path string, alpha uint8) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: alpha})
		}
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 0})
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, nil))
}

func TestRegistryDefinitions(t *testing.T) {
	roots := newRoots(t)
	require.NoError(t, os.WriteFile(filepath.Join(roots.Input, "b.png"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(roots.Input, "a.png"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(roots.Input, "dir"), 0755))

	r := NewDefaultRegistry(roots, nil, nil)
	assert.Equal(t, []string{ClassLoadImageByPath, ClassLoadImageDedup}, r.Classes())

	defs, err := r.Definitions()
	require.NoError(t, err)

	dedup := defs[ClassLoadImageDedup]
	assert.Equal(t, "Load Image Dedup", dedup.DisplayName)
	assert.Equal(t, []string{"a.png", "b.png"}, dedup.Inputs[0].Options)
	assert.Equal(t, []string{"no_overwrite", "input_filename", "last_rename"}, dedup.Inputs[1].Options)
	assert.False(t, dedup.Inputs[1].Required)
	assert.Equal(t, []string{"IMAGE", "MASK"}, dedup.Outputs)

	byPath := defs[ClassLoadImageByPath]
	assert.Equal(t, "Load Image By Path", byPath.DisplayName)
	assert.Equal(t, "/path/to/image.psd", byPath.Inputs[0].Default)
}

func TestLoadImageDedupValidateAndFingerprint(t *testing.T) {
	roots := newRoots(t)
	writePNG(t, filepath.Join(roots.Input, "a.png"), 255)
	writePNG(t, filepath.Join(roots.Output, "a.png"), 128)

	r := NewDefaultRegistry(roots, nil, nil)
	node, ok := r.Get(ClassLoadImageDedup)
	require.True(t, ok)

	assert.NoError(t, node.Validate("a.png"))
	assert.NoError(t, node.Validate("a.png [output]"))
	err := node.Validate("missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid input image: 'missing.png'")
	assert.True(t, kaperrors.IsClientInputError(node.Validate("../escape.png")))

	in, err := node.IsChanged("a.png")
	require.NoError(t, err)
	out, err := node.IsChanged("a.png [output]")
	require.NoError(t, err)
	assert.Len(t, in, 16)
	assert.NotEqual(t, in, out)

	again, err := node.IsChanged("a.png")
	require.NoError(t, err)
	assert.Equal(t, in, again)
}

func TestLoadProducesInvertedAlphaMask(t *testing.T) {
	roots := newRoots(t)
	writePNG(t, filepath.Join(roots.Input, "a.png"), 255)

	node, _ := NewDefaultRegistry(roots, nil, nil).Get(ClassLoadImageDedup)
	out, err := node.Load(context.Background(), "a.png")
	require.NoError(t, err)
	require.Len(t, out.Frames, 1)
	assert.Equal(t, "png", out.Format)

	frame := out.Frames[0]
	assert.Equal(t, 4, frame.Image.Bounds().Dx())
	assert.Equal(t, 3, frame.Image.Bounds().Dy())
	assert.Equal(t, 4, frame.Mask.Width)
	assert.Equal(t, float32(1), frame.Mask.At(0, 0))
	assert.Equal(t, float32(0), frame.Mask.At(1, 1))
	assert.Equal(t, uint8(200), frame.Image.NRGBAAt(2, 2).R)
}

func TestLoadOpaqueImageHasEmptyMask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	writeJPEG(t, path)

	node, _ := NewDefaultRegistry(newRoots(t), nil, nil).Get(ClassLoadImageByPath)
	require.NoError(t, node.Validate(path))

	out, err := node.Load(context.Background(), path)
	require.NoError(t, err)
	mask := out.Frames[0].Mask
	assert.Equal(t, emptyMaskSize, mask.Width)
	assert.Equal(t, emptyMaskSize, mask.Height)
	for _, v := range mask.Values {
		assert.Zero(t, v)
	}
}

func TestLoadAnimatedGIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anim.gif")
	g := &gif.GIF{}
	for i := 0; i < 3; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 5, 5), palette.Plan9)
		frame.SetColorIndex(i, i, uint8(i+1))
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 10)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, gif.EncodeAll(f, g))
	require.NoError(t, f.Close())

	node, _ := NewDefaultRegistry(newRoots(t), nil, nil).Get(ClassLoadImageByPath)
	out, err := node.Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "gif", out.Format)
	require.Len(t, out.Frames, 3)
	for _, frame := range out.Frames {
		assert.Equal(t, 5, frame.Image.Bounds().Dx())
	}
}

type mockPreviewer struct {
	mock.Mock
}

func (m *mockPreviewer) Generate(ctx context.Context, source string) (models.PreviewResult, error) {
	args := m.Called(ctx, source)
	return args.Get(0).(models.PreviewResult), args.Error(1)
}

func TestLoadByPathFallsBackToPreview(t *testing.T) {
	dir := t.TempDir()
	psd := filepath.Join(dir, "poster.psd")
	require.NoError(t, os.WriteFile(psd, []byte("8BPS not decodable"), 0644))
	converted := filepath.Join(dir, "preview.png")
	writePNG(t, converted, 255)

	previewer := &mockPreviewer{}
	previewer.On("Generate", mock.Anything, psd).Return(models.PreviewResult{Success: true, PreviewFilepath: converted}, nil).Once()

	node, _ := NewDefaultRegistry(newRoots(t), nil, previewer).Get(ClassLoadImageByPath)
	out, err := node.Load(context.Background(), psd)
	require.NoError(t, err)
	assert.Equal(t, "png", out.Format)
	previewer.AssertExpectations(t)
}

func TestLoadByPathRejectsMissing(t *testing.T) {
	node, _ := NewDefaultRegistry(newRoots(t), nil, nil).Get(ClassLoadImageByPath)
	_, err := node.Load(context.Background(), "/path/to/image.psd")
	require.Error(t, err)
	assert.True(t, kaperrors.IsClientInputError(err))

	_, err = node.IsChanged(filepath.Join(t.TempDir(), "missing.png"))
	assert.True(t, kaperrors.IsNotFoundError(err))
}
