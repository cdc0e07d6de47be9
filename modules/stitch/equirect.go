package stitch

import (
	"fmt"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

// DefaultFOVPerCamera is the horizontal field of view of the rig's lenses.
const DefaultFOVPerCamera = 41.0

// Equirect places N cameras at fixed, evenly spaced yaw angles on an
// equirectangular canvas (camera i at i*360/N degrees, covering FOVPerCamera
// degrees). Columns outside every camera's coverage stay black. No alignment
// is attempted, so it never fails on content.
type Equirect struct {
	// Width and Height of the output canvas. Height defaults to Width/2.
	Width  int
	Height int

	// FOVPerCamera in degrees (default 41).
	FOVPerCamera float64
}

// Stitch maps every canvas column covered by a camera back to a source column.
func (e Equirect) Stitch(frames []*frameslot.Frame) (*frameslot.Frame, error) {
	srcW, srcH, err := checkInputs(frames)
	if err != nil {
		return nil, err
	}

	width, height := e.Width, e.Height
	if width <= 0 {
		return nil, fmt.Errorf("%w: equirect canvas width must be > 0", ErrStitchFailure)
	}
	if height <= 0 {
		height = width / 2
	}
	fov := e.FOVPerCamera
	if fov <= 0 {
		fov = DefaultFOVPerCamera
	}

	out := frameslot.NewFrame(width, height)
	separation := 360.0 / float64(len(frames))

	for i, f := range frames {
		angle := float64(i) * separation
		start := int(angle / 360 * float64(width))
		end := int((angle + fov) / 360 * float64(width))
		span := end - start
		if span <= 0 {
			continue
		}

		for j := start; j < end; j++ {
			xCam := (j - start) * srcW / span
			col := j % width

			for y := 0; y < height; y++ {
				yCam := y * srcH / height
				si := yCam*f.Stride() + xCam*3
				di := y*out.Stride() + col*3
				copy(out.Data[di:di+3], f.Data[si:si+3])
			}
		}
	}

	return out, nil
}
