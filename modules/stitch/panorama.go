package stitch

import (
	"fmt"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// Sampling steps of the overlap search. Alignment only needs a coarse score.
const (
	searchRowStep = 4
	searchColStep = 2
)

// Panorama aligns neighbouring cameras by searching the horizontal overlap
// that best matches their shared edge, then feathers the seams.
//
// For each adjacent pair the overlap width o in [MinOverlap, MaxOverlap]
// minimising the mean absolute difference between the right edge of the left
// frame and the left edge of the right frame is chosen. If even the best
// overlap differs by more than MaxMeanDiff the pair cannot be aligned and the
// stitch fails.
type Panorama struct {
	MinOverlap  int
	MaxOverlap  int
	MaxMeanDiff float64
}

// Alignment is the overlap chosen for one pair of neighbours.
type Alignment struct {
	Overlap  int
	MeanDiff float64
}

// Stitch aligns and blends the frames left to right.
func (p Panorama) Stitch(frames []*frameslot.Frame) (*frameslot.Frame, error) {
	width, height, err := checkInputs(frames)
	if err != nil {
		return nil, err
	}
	if p.MinOverlap <= 0 || p.MaxOverlap < p.MinOverlap || p.MaxOverlap >= width {
		return nil, fmt.Errorf("%w: invalid overlap range [%d, %d] for width %d",
			ErrStitchFailure, p.MinOverlap, p.MaxOverlap, width)
	}

	alignments := make([]Alignment, len(frames)-1)
	outWidth := width
	for i := 0; i+1 < len(frames); i++ {
		a := p.Align(frames[i], frames[i+1])
		if a.MeanDiff > p.MaxMeanDiff {
			return nil, fmt.Errorf("%w: cameras %d and %d cannot be aligned (best mean diff %.1f at overlap %d, limit %.1f)",
				ErrStitchFailure, i, i+1, a.MeanDiff, a.Overlap, p.MaxMeanDiff)
		}
		alignments[i] = a
		outWidth += width - a.Overlap
	}

	out := frameslot.NewFrame(outWidth, height)

	// x0 is the canvas column of the current frame's first column.
	x0 := 0
	for i, f := range frames {
		leftOverlap := 0
		if i > 0 {
			leftOverlap = alignments[i-1].Overlap
		}

		for y := 0; y < height; y++ {
			src := f.Data[y*f.Stride():]
			dst := out.Data[y*out.Stride():]
			for x := 0; x < width; x++ {
				di := (x0 + x) * 3
				si := x * 3
				if x < leftOverlap {
					// Feather: weight of the incoming frame grows across the seam.
					w := (2*x + 1) * 256 / (2 * leftOverlap)
					for c := 0; c < 3; c++ {
						prev := int(dst[di+c])
						next := int(src[si+c])
						dst[di+c] = byte((prev*(256-w) + next*w) >> 8)
					}
					continue
				}
				copy(dst[di:di+3], src[si:si+3])
			}
		}

		if i+1 < len(frames) {
			x0 += width - alignments[i].Overlap
		}
	}

	return out, nil
}

// Align searches the best overlap between left and right (same geometry).
func (p Panorama) Align(left, right *frameslot.Frame) Alignment {
	best := Alignment{Overlap: p.MinOverlap, MeanDiff: -1}

	for o := p.MinOverlap; o <= p.MaxOverlap; o++ {
		d := overlapDiff(left, right, o)
		if best.MeanDiff < 0 || d < best.MeanDiff {
			best = Alignment{Overlap: o, MeanDiff: d}
		}
	}
	return best
}

// overlapDiff is the mean absolute channel difference between the last o
// columns of left and the first o columns of right.
func overlapDiff(left, right *frameslot.Frame, o int) float64 {
	var sum, n int
	offset := left.Width - o

	for y := 0; y < left.Height; y += searchRowStep {
		l := left.Data[y*left.Stride():]
		r := right.Data[y*right.Stride():]
		for k := 0; k < o; k += searchColStep {
			li := (offset + k) * 3
			ri := k * 3
			for c := 0; c < 3; c++ {
				d := int(l[li+c]) - int(r[ri+c])
				if d < 0 {
					d = -d
				}
				sum += d
			}
			n += 3
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
