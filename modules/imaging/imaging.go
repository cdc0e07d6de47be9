// Package imaging converts pipeline frames to and from image.Image and
// scales them with golang.org/x/image/draw.
package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"

	xdraw "golang.org/x/image/draw"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// Quality selects the scaling kernel.
type Quality int

const (
	// Nearest is the cheapest kernel, used for previews.
	Nearest Quality = iota
	// Bilinear is the default for stitching and combining.
	Bilinear
)

func (q Quality) interpolator() xdraw.Interpolator {
	if q == Nearest {
		return xdraw.NearestNeighbor
	}
	return xdraw.ApproxBiLinear
}

// ToRGBA converts a BGR frame into a freshly allocated *image.RGBA.
func ToRGBA(f *frameslot.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	src := f.Data
	dst := img.Pix
	for i, j := 0, 0; i+2 < len(src) && j+3 < len(dst); i, j = i+3, j+4 {
		dst[j+0] = src[i+2]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+0]
		dst[j+3] = 0xFF
	}
	return img
}

// FromImage converts any image into a new BGR frame (alpha is dropped).
func FromImage(img image.Image) *frameslot.Frame {
	b := img.Bounds()
	f := frameslot.NewFrame(b.Dx(), b.Dy())

	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		for y := 0; y < f.Height; y++ {
			row := rgba.Pix[y*rgba.Stride:]
			out := f.Data[y*f.Stride():]
			for x := 0; x < f.Width; x++ {
				out[x*3+0] = row[x*4+2]
				out[x*3+1] = row[x*4+1]
				out[x*3+2] = row[x*4+0]
			}
		}
		return f
	}

	for y := 0; y < f.Height; y++ {
		out := f.Data[y*f.Stride():]
		for x := 0; x < f.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			out[x*3+0] = byte(bl >> 8)
			out[x*3+1] = byte(g >> 8)
			out[x*3+2] = byte(r >> 8)
		}
	}
	return f
}

// Resize scales a frame to width x height. A frame that already has the
// requested size is returned as is (frames are immutable). Metadata other
// than the geometry is carried over.
func Resize(f *frameslot.Frame, width, height int, q Quality) (*frameslot.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("imaging: invalid target size %dx%d", width, height)
	}
	if f.Width == width && f.Height == height {
		return f, nil
	}

	src := ToRGBA(f)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	q.interpolator().Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := FromImage(dst)
	out.Seq = f.Seq
	out.Timestamp = f.Timestamp
	out.Source = f.Source
	out.TraceID = f.TraceID
	return out, nil
}

// EncodeJPEG writes the frame as a baseline JPEG.
func EncodeJPEG(w io.Writer, f *frameslot.Frame, quality int) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return jpeg.Encode(w, ToRGBA(f), &jpeg.Options{Quality: quality})
}
