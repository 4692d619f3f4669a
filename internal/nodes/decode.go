package nodes

import (
	"image"
	"image/draw"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	kaperrors "github.com/kapnodes/kapimage/pkg/errors"
)

// emptyMaskSize is the side of the all-zero mask returned for images without transparency
const emptyMaskSize = 64

// Mask holds per-pixel values in [0,1], row-major
type Mask struct {
	Width  int
	Height int
	Values []float32
}

// At returns the mask value at x, y
func (m *Mask) At(x, y int) float32 {
	return m.Values[y*m.Width+x]
}

// Frame is one decoded image and its mask
type Frame struct {
	Image *image.NRGBA
	Mask  *Mask
}

// Output is the result of a load node. Animated images yield one frame per animation frame.
type Output struct {
	Format string
	Frames []Frame
}

// decodeFile decodes every frame of the image at path
func decodeFile(path string) (*Output, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, kaperrors.NewNotFoundError("failed to open image", err).WithContext("path", path)
	}
	defer f.Close()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, kaperrors.NewClientInputError("unrecognized image format", err).WithContext("path", path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, kaperrors.NewFileSystemError("failed to rewind image", err)
	}

	if format == "gif" {
		return decodeGIF(f)
	}

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, kaperrors.NewClientInputError("failed to decode image", err).WithContext("path", path)
	}
	return &Output{Format: format, Frames: []Frame{newFrame(img)}}, nil
}

// decodeGIF composites each frame onto the logical screen so every frame has full size
func decodeGIF(r io.Reader) (*Output, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, kaperrors.NewClientInputError("failed to decode gif", err)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() && len(g.Image) > 0 {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewNRGBA(bounds)

	out := &Output{Format: "gif"}
	for i, frame := range g.Image {
		var previous *image.NRGBA
		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalPrevious {
			previous = cloneNRGBA(canvas)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		out.Frames = append(out.Frames, newFrame(cloneNRGBA(canvas)))

		if i < len(g.Disposal) {
			switch g.Disposal[i] {
			case gif.DisposalBackground:
				draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
			case gif.DisposalPrevious:
				canvas = previous
			}
		}
	}
	return out, nil
}

func newFrame(img image.Image) Frame {
	nrgba := toNRGBA(img)
	return Frame{Image: nrgba, Mask: maskFor(img, nrgba)}
}

// maskFor inverts alpha; images that are fully opaque get a small all-zero mask
func maskFor(src image.Image, img *image.NRGBA) *Mask {
	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		return &Mask{
			Width:  emptyMaskSize,
			Height: emptyMaskSize,
			Values: make([]float32, emptyMaskSize*emptyMaskSize),
		}
	}

	b := img.Bounds()
	m := &Mask{Width: b.Dx(), Height: b.Dy(), Values: make([]float32, b.Dx()*b.Dy())}
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < b.Dx(); x++ {
			alpha := row[x*4+3]
			m.Values[y*m.Width+x] = 1 - float32(alpha)/255
		}
	}
	return m
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func cloneNRGBA(img *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(img.Bounds())
	copy(dst.Pix, img.Pix)
	return dst
}

// Summary describes a loaded image without its pixel data
type Summary struct {
	Format      string `json:"format"`
	Frames      int    `json:"frames"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	MaskWidth   int    `json:"mask_width"`
	MaskHeight  int    `json:"mask_height"`
	Transparent int    `json:"transparent_pixels"` // in the first frame's mask
}

// Summary reports the dimensions of the first frame and its mask
func (o *Output) Summary() Summary {
	s := Summary{Format: o.Format, Frames: len(o.Frames)}
	if len(o.Frames) == 0 {
		return s
	}
	first := o.Frames[0]
	b := first.Image.Bounds()
	s.Width, s.Height = b.Dx(), b.Dy()
	if first.Mask != nil {
		s.MaskWidth, s.MaskHeight = first.Mask.Width, first.Mask.Height
		for _, v := range first.Mask.Values {
			if v > 0 {
				s.Transparent++
			}
		}
	}
	return s
}
