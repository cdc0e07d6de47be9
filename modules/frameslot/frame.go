package frameslot

import (
	"fmt"
	"time"
)

// PixelFormat identifies the memory layout of Frame.Data.
type PixelFormat uint8

const (
	// FormatBGR24 is packed 8-bit blue, green, red (3 bytes per pixel).
	FormatBGR24 PixelFormat = iota + 1
)

// String returns a human-readable name for the pixel format.
func (p PixelFormat) String() string {
	switch p {
	case FormatBGR24:
		return "BGR24"
	default:
		return fmt.Sprintf("PixelFormat(%d)", uint8(p))
	}
}

// BytesPerPixel returns the packed pixel size of the format (0 if unknown).
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case FormatBGR24:
		return 3
	default:
		return 0
	}
}

// Frame is a 2D pixel buffer flowing through the pipeline.
//
// IMMUTABILITY CONTRACT:
//   - Producer: owns the frame until Publish, MUST NOT modify it afterwards
//   - Readers: MUST NOT modify Data (shared by reference)
type Frame struct {
	// Seq is assigned by the producing stage when the frame is created.
	// Monotonically increasing per producer.
	Seq uint64

	Width  int
	Height int
	Format PixelFormat

	// Data holds Width*Height*BytesPerPixel bytes, row-major, no padding.
	Data []byte

	// Timestamp is the creation time at the producing stage.
	Timestamp time.Time

	// Source names the producer (camera index, stitch group, peer address).
	Source string

	// TraceID follows the frame through logs across stages and hosts.
	TraceID string
}

// MaxDimension bounds Width and Height. It keeps Width*Height*bpp far from
// overflowing int, so a frame decoded from the network cannot fake a small
// buffer with huge dimensions.
const MaxDimension = 1 << 15

// NewFrame allocates a zeroed BGR frame of the given size.
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:     width,
		Height:    height,
		Format:    FormatBGR24,
		Data:      make([]byte, width*height*FormatBGR24.BytesPerPixel()),
		Timestamp: time.Now(),
	}
}

// Stride returns the number of bytes per row.
func (f *Frame) Stride() int {
	return f.Width * f.Format.BytesPerPixel()
}

// Validate checks that the buffer length matches the declared geometry.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("frameslot: nil frame")
	}
	bpp := f.Format.BytesPerPixel()
	if bpp == 0 {
		return fmt.Errorf("frameslot: unsupported pixel format %s", f.Format)
	}
	if f.Width <= 0 || f.Height <= 0 || f.Width > MaxDimension || f.Height > MaxDimension {
		return fmt.Errorf("frameslot: invalid dimensions %dx%d (max %d per side)", f.Width, f.Height, MaxDimension)
	}
	if want := f.Width * f.Height * bpp; len(f.Data) != want {
		return fmt.Errorf("frameslot: buffer holds %d bytes, %dx%d %s needs %d",
			len(f.Data), f.Width, f.Height, f.Format, want)
	}
	return nil
}

// Clone returns a deep copy that the caller owns exclusively.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}
