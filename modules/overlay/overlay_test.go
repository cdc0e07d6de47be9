package overlay_test

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/overlay"
	"github.com/e7canasta/orion-rig360/modules/stage"
)

func patterned(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(10 * x), G: uint8(20 * y), B: uint8(x + y + 100), A: alpha})
		}
	}
	return img
}

// TestOpaqueOverlayOnZeroFrame validates alpha=1 yields the overlay's RGB exactly.
func TestOpaqueOverlayOnZeroFrame(t *testing.T) {
	img := patterned(6, 4, 255)
	o, err := overlay.New(img, 0, 0, 6, 4)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	out := o.Apply(frameslot.NewFrame(6, 4))

	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			c := img.NRGBAAt(x, y)
			i := y*out.Stride() + x*3
			got := [3]byte{out.Data[i], out.Data[i+1], out.Data[i+2]}
			want := [3]byte{c.B, c.G, c.R}
			if got != want {
				t.Fatalf("pixel (%d,%d) = %v, want BGR %v", x, y, got, want)
			}
		}
	}
}

// TestApplyBlend validates the per-channel blend and the untouched input.
func TestApplyBlend(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 200, B: 200, A: 0})
	img.SetNRGBA(1, 0, color.NRGBA{R: 200, G: 0, B: 100, A: 128})

	o, err := overlay.New(img, 1, 1, 4, 3)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	in := frameslot.NewFrame(4, 3)
	for i := range in.Data {
		in.Data[i] = 50
	}
	in.Seq = 9
	before := in.Clone()

	out := o.Apply(in)

	if !bytes.Equal(in.Data, before.Data) {
		t.Fatal("Apply modified its input")
	}
	if out.Seq != 9 {
		t.Errorf("output seq = %d, want 9", out.Seq)
	}

	pixel := func(x, y int) [3]byte {
		i := y*out.Stride() + x*3
		return [3]byte{out.Data[i], out.Data[i+1], out.Data[i+2]}
	}

	if got := pixel(1, 1); got != [3]byte{50, 50, 50} {
		t.Errorf("transparent pixel = %v, want unchanged", got)
	}
	// (50*127 + v*128 + 127) / 255 per channel, BGR order.
	if got := pixel(2, 1); got != [3]byte{75, 25, 125} {
		t.Errorf("half-alpha pixel = %v, want [75 25 125]", got)
	}
	if got := pixel(0, 0); got != [3]byte{50, 50, 50} {
		t.Errorf("pixel outside overlay changed: %v", got)
	}
}

func TestNewDimensionMismatch(t *testing.T) {
	img := patterned(10, 10, 255)

	tests := []struct {
		name string
		x, y int
		w, h int
	}{
		{"too wide", 0, 0, 9, 10},
		{"too tall", 0, 0, 10, 9},
		{"pushed off the edge", 5, 0, 12, 10},
		{"negative position", -1, 0, 20, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := overlay.New(img, tt.x, tt.y, tt.w, tt.h)
			if !errors.Is(err, overlay.ErrDimensionMismatch) {
				t.Errorf("New() error = %v, want ErrDimensionMismatch", err)
			}
		})
	}

	if _, err := overlay.New(img, 10, 10, 20, 20); err != nil {
		t.Errorf("fitting overlay rejected: %v", err)
	}
}

func TestApplyClipsSmallerFrame(t *testing.T) {
	o, err := overlay.New(patterned(4, 4, 255), 2, 2, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	out := o.Apply(frameslot.NewFrame(3, 3))
	if out.Width != 3 || len(out.Data) != 27 {
		t.Fatalf("unexpected output geometry %dx%d", out.Width, out.Height)
	}
}

func TestCompass(t *testing.T) {
	img := overlay.Compass(100)

	if b := img.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Fatalf("compass bounds = %v", b)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Error("corner should be transparent")
	}
	if _, _, _, a := img.At(50, 60).RGBA(); a == 0 {
		t.Error("disc should be opaque")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asset.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, patterned(3, 2, 255)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, err := overlay.Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Errorf("bounds = %v", b)
	}

	if _, err := overlay.Load(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing asset")
	}
}

func TestStage(t *testing.T) {
	o, err := overlay.New(patterned(2, 2, 255), 0, 0, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	in := frameslot.New("combined")
	st, err := overlay.NewStage(o, in)
	if err != nil {
		t.Fatal(err)
	}

	if res, _ := st.Step(); res != stage.Skipped {
		t.Errorf("Step() on empty input = %v", res)
	}

	f := frameslot.NewFrame(4, 4)
	f.Seq = 3
	in.Publish(f)

	if res, _ := st.Step(); res != stage.Published {
		t.Fatalf("Step() = %v, want published", res)
	}
	if res, _ := st.Step(); res != stage.Skipped {
		t.Errorf("second Step() on same frame = %v, want skipped", res)
	}

	got, ok := st.Output().Latest()
	if !ok || got.Seq != 3 || got == f {
		t.Errorf("final slot = (%v, %v), want a new frame with seq 3", got, ok)
	}
}
