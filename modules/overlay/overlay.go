// Package overlay composites a fixed RGBA image (a compass by default) onto
// outgoing frames.
//
// Geometry is checked once in New; Apply never fails.
package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	xdraw "golang.org/x/image/draw"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// ErrDimensionMismatch means the overlay does not fit the frame at its
// position. It is a startup configuration error.
var ErrDimensionMismatch = errors.New("overlay: dimension mismatch")

// Overlay is a prepared, immutable overlay bound to one frame size.
type Overlay struct {
	img  *image.NRGBA // straight (non-premultiplied) alpha
	x, y int

	frameWidth  int
	frameHeight int
}

// New prepares img to be drawn at (x, y) on frames of frameWidth x
// frameHeight.
func New(img image.Image, x, y, frameWidth, frameHeight int) (*Overlay, error) {
	if img == nil {
		return nil, fmt.Errorf("overlay: nil image")
	}
	b := img.Bounds()
	if x < 0 || y < 0 || x+b.Dx() > frameWidth || y+b.Dy() > frameHeight {
		return nil, fmt.Errorf("%w: %dx%d overlay at (%d,%d) does not fit a %dx%d frame",
			ErrDimensionMismatch, b.Dx(), b.Dy(), x, y, frameWidth, frameHeight)
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(nrgba, nrgba.Bounds(), img, b.Min, xdraw.Src)

	return &Overlay{
		img:         nrgba,
		x:           x,
		y:           y,
		frameWidth:  frameWidth,
		frameHeight: frameHeight,
	}, nil
}

// Bounds returns the overlay rectangle in frame coordinates.
func (o *Overlay) Bounds() image.Rectangle {
	return o.img.Bounds().Add(image.Pt(o.x, o.y))
}

// Apply returns a new frame with the overlay blended in:
//
//	out = frame*(1-a) + overlay*a   (per channel, a = alpha/255)
//
// The input frame is not modified and the result keeps its metadata. A frame
// smaller than the configured size gets the overlay clipped to its bounds.
func (o *Overlay) Apply(f *frameslot.Frame) *frameslot.Frame {
	out := f.Clone()
	if f.Validate() != nil {
		return out
	}

	r := o.Bounds().Intersect(image.Rect(0, 0, f.Width, f.Height))
	stride := out.Stride()

	for y := r.Min.Y; y < r.Max.Y; y++ {
		src := o.img.Pix[(y-o.y)*o.img.Stride:]
		dst := out.Data[y*stride:]
		for x := r.Min.X; x < r.Max.X; x++ {
			si := (x - o.x) * 4
			a := uint32(src[si+3])
			if a == 0 {
				continue
			}
			di := x * 3
			// BGR frame, RGBA overlay.
			dst[di+0] = blend(dst[di+0], src[si+2], a)
			dst[di+1] = blend(dst[di+1], src[si+1], a)
			dst[di+2] = blend(dst[di+2], src[si+0], a)
		}
	}

	return out
}

func blend(frame, overlay byte, a uint32) byte {
	return byte((uint32(frame)*(255-a) + uint32(overlay)*a + 127) / 255)
}

// Compass renders the default compass asset: a white disc with a black rim
// and the cardinal labels, on a transparent size x size canvas.
func Compass(size int) image.Image {
	dc := gg.NewContext(size, size)

	c := float64(size) / 2
	radius := c - 2

	dc.DrawCircle(c, c, radius)
	dc.SetColor(color.White)
	dc.FillPreserve()
	dc.SetColor(color.Black)
	dc.SetLineWidth(2)
	dc.Stroke()

	labelRadius := radius * 0.7
	for i, label := range []string{"N", "E", "S", "W"} {
		angle := float64(i) * math.Pi / 2
		lx := c + labelRadius*math.Sin(angle)
		ly := c - labelRadius*math.Cos(angle)
		dc.DrawStringAnchored(label, lx, ly, 0.5, 0.5)
	}

	dc.DrawLine(c, c, c, c-labelRadius*0.6)
	dc.SetRGB(0.8, 0, 0)
	dc.Stroke()

	return dc.Image()
}

// Load reads a PNG or JPEG overlay asset.
func Load(path string) (image.Image, error) {
	img, err := gg.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("overlay: load %s: %w", path, err)
	}
	return img, nil
}
