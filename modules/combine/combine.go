// Package combine merges the local stitched frame with the frames received
// from remote hosts into one 360° composite.
//
// Placement is angular: each input covers a fixed yaw range of the output
// canvas. There is no reprojection, so Combine is a pure function of its
// inputs and the layout.
package combine

import (
	"errors"
	"fmt"
	"math"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/imaging"
)

// ErrCombineFailure reports inputs that cannot be placed on the layout.
// Recoverable: the cycle is dropped.
var ErrCombineFailure = errors.New("combine: failure")

// Placement is the yaw range one input covers.
type Placement struct {
	// OffsetDeg is the yaw of the input's left edge, in [0, 360).
	OffsetDeg float64 `yaml:"offset_deg"`

	// SpanDeg is the horizontal coverage, in (0, 360].
	SpanDeg float64 `yaml:"span_deg"`
}

// Layout is the output canvas and one placement per input (local first,
// then remotes in configuration order).
type Layout struct {
	Width      int
	Height     int
	Placements []Placement

	// Quality of the per-input resize.
	Quality imaging.Quality
}

// DefaultLayout splits the circle evenly between n inputs.
func DefaultLayout(width, height, n int) Layout {
	l := Layout{Width: width, Height: height, Quality: imaging.Bilinear}
	for i := 0; i < n; i++ {
		l.Placements = append(l.Placements, Placement{
			OffsetDeg: float64(i) * 360 / float64(n),
			SpanDeg:   360 / float64(n),
		})
	}
	return l
}

// Validate checks the layout geometry.
func (l Layout) Validate() error {
	if l.Width <= 0 || l.Height <= 0 {
		return fmt.Errorf("combine: invalid canvas %dx%d", l.Width, l.Height)
	}
	if len(l.Placements) == 0 {
		return fmt.Errorf("combine: layout has no placements")
	}
	for i, p := range l.Placements {
		if p.OffsetDeg < 0 || p.OffsetDeg >= 360 {
			return fmt.Errorf("combine: placement %d: offset %.1f° outside [0, 360)", i, p.OffsetDeg)
		}
		if p.SpanDeg <= 0 || p.SpanDeg > 360 {
			return fmt.Errorf("combine: placement %d: span %.1f° outside (0, 360]", i, p.SpanDeg)
		}
		if columns(p.SpanDeg, l.Width) == 0 {
			return fmt.Errorf("combine: placement %d: span %.1f° is narrower than one column", i, p.SpanDeg)
		}
	}
	return nil
}

// columns converts degrees to canvas columns.
func columns(deg float64, width int) int {
	return int(math.Round(deg / 360 * float64(width)))
}

// Combine places frames[i] on layout.Placements[i] and returns a new,
// unsequenced frame. Where placements overlap the inputs are averaged;
// uncovered columns are black. Inputs are never modified.
func Combine(layout Layout, frames ...*frameslot.Frame) (*frameslot.Frame, error) {
	if err := layout.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCombineFailure, err)
	}
	if len(frames) != len(layout.Placements) {
		return nil, fmt.Errorf("%w: %d inputs for %d placements", ErrCombineFailure, len(frames), len(layout.Placements))
	}

	width, height := layout.Width, layout.Height
	stride := width * 3

	sum := make([]uint32, width*height*3)
	cover := make([]uint16, width)

	for i, f := range frames {
		if err := f.Validate(); err != nil {
			return nil, fmt.Errorf("%w: input %d: %v", ErrCombineFailure, i, err)
		}

		p := layout.Placements[i]
		span := columns(p.SpanDeg, width)
		start := columns(p.OffsetDeg, width)

		scaled, err := imaging.Resize(f, span, height, layout.Quality)
		if err != nil {
			return nil, fmt.Errorf("%w: input %d (seq %d): %v", ErrCombineFailure, i, f.Seq, err)
		}

		for x := 0; x < span; x++ {
			col := (start + x) % width
			cover[col]++
			for y := 0; y < height; y++ {
				si := y*scaled.Stride() + x*3
				di := y*stride + col*3
				sum[di] += uint32(scaled.Data[si])
				sum[di+1] += uint32(scaled.Data[si+1])
				sum[di+2] += uint32(scaled.Data[si+2])
			}
		}
	}

	out := frameslot.NewFrame(width, height)
	for col, n := range cover {
		if n == 0 {
			continue
		}
		div := uint32(n)
		for y := 0; y < height; y++ {
			i := y*stride + col*3
			out.Data[i] = byte((sum[i] + div/2) / div)
			out.Data[i+1] = byte((sum[i+1] + div/2) / div)
			out.Data[i+2] = byte((sum[i+2] + div/2) / div)
		}
	}

	return out, nil
}
