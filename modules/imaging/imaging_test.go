package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

func TestRGBARoundTrip(t *testing.T) {
	f := frameslot.NewFrame(3, 2)
	for i := range f.Data {
		f.Data[i] = byte(i * 10)
	}

	back := FromImage(ToRGBA(f))
	if !bytes.Equal(back.Data, f.Data) {
		t.Fatalf("round trip changed pixels:\n got %v\nwant %v", back.Data, f.Data)
	}
}

func TestToRGBAChannelOrder(t *testing.T) {
	f := frameslot.NewFrame(1, 1)
	f.Data[0], f.Data[1], f.Data[2] = 10, 20, 30 // B, G, R

	c := ToRGBA(f).RGBAAt(0, 0)
	want := color.RGBA{R: 30, G: 20, B: 10, A: 255}
	if c != want {
		t.Errorf("pixel = %v, want %v", c, want)
	}
}

func TestFromImageGenericPath(t *testing.T) {
	img := image.NewNRGBA(image.Rect(5, 5, 7, 6))
	img.Set(5, 5, color.NRGBA{R: 1, G: 2, B: 3, A: 255})

	f := FromImage(img)
	if f.Width != 2 || f.Height != 1 {
		t.Fatalf("size = %dx%d, want 2x1", f.Width, f.Height)
	}
	if f.Data[0] != 3 || f.Data[1] != 2 || f.Data[2] != 1 {
		t.Errorf("first pixel BGR = %v", f.Data[:3])
	}
}

func TestResize(t *testing.T) {
	f := frameslot.NewFrame(8, 4)
	for i := range f.Data {
		f.Data[i] = 200
	}
	f.Seq = 42
	f.TraceID = "trace"

	tests := []struct {
		name string
		w, h int
		q    Quality
	}{
		{"downscale bilinear", 4, 2, Bilinear},
		{"upscale nearest", 16, 8, Nearest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Resize(f, tt.w, tt.h, tt.q)
			if err != nil {
				t.Fatalf("Resize() error: %v", err)
			}
			if err := out.Validate(); err != nil {
				t.Fatal(err)
			}
			if out.Width != tt.w || out.Height != tt.h {
				t.Errorf("size = %dx%d", out.Width, out.Height)
			}
			if out.Seq != 42 || out.TraceID != "trace" {
				t.Errorf("metadata lost: seq=%d trace=%q", out.Seq, out.TraceID)
			}
			for i, b := range out.Data {
				if b != 200 {
					t.Fatalf("uniform image changed at byte %d: %d", i, b)
				}
			}
		})
	}
}

func TestResizeSameSizeIsIdentity(t *testing.T) {
	f := frameslot.NewFrame(4, 4)
	out, err := Resize(f, 4, 4, Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	if out != f {
		t.Error("same-size resize should return the input frame")
	}
}

func TestResizeRejectsBadInput(t *testing.T) {
	if _, err := Resize(frameslot.NewFrame(2, 2), 0, 2, Bilinear); err == nil {
		t.Error("expected error for zero width")
	}
	bad := &frameslot.Frame{Width: 2, Height: 2, Format: frameslot.FormatBGR24, Data: []byte{1}}
	if _, err := Resize(bad, 1, 1, Bilinear); err == nil {
		t.Error("expected error for malformed frame")
	}
}

func TestEncodeJPEG(t *testing.T) {
	f := frameslot.NewFrame(16, 8)
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, f, 80); err != nil {
		t.Fatalf("EncodeJPEG() error: %v", err)
	}

	img, err := jpeg.Decode(&buf)
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Errorf("decoded size = %v", img.Bounds())
	}
}
