// Package stitch turns the latest frames of a camera group into one wide
// frame.
//
// The stage is all-or-nothing: a cycle with any camera missing is skipped and
// the output slot keeps its previous frame. Stitching itself is pluggable
// (Stitcher); Equirect and Panorama are the two strategies shipped.
package stitch

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/imaging"
	"github.com/e7canasta/orion-rig360/modules/stage"
)

// ErrStitchFailure reports that a set of inputs could not be aligned or
// blended. Recoverable: the cycle is dropped and the next one retried.
var ErrStitchFailure = errors.New("stitch: failure")

// Stitcher composes equally sized frames (camera order) into one frame.
//
// Implementations are pure: they must not modify the inputs and return an
// unsequenced frame. Errors wrap ErrStitchFailure.
type Stitcher interface {
	Stitch(frames []*frameslot.Frame) (*frameslot.Frame, error)
}

// Config is the per-group stage configuration.
type Config struct {
	// Group names the camera group; used as frame source and in logs.
	Group string

	// WorkWidth and WorkHeight are the size every input is normalized to.
	WorkWidth  int
	WorkHeight int

	// Quality of the normalization resize.
	Quality imaging.Quality
}

// Stage reads one slot per camera of the group and publishes stitched frames.
type Stage struct {
	cfg      Config
	inputs   []*frameslot.Slot
	stitcher Stitcher

	out      *frameslot.Slot
	seq      frameslot.Sequencer
	stitched []uint64 // input seqs of the last published frame
}

// NewStage wires a stitch stage. The number of inputs is fixed from here on.
func NewStage(cfg Config, inputs []*frameslot.Slot, stitcher Stitcher) (*Stage, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("stitch: group %q has no inputs", cfg.Group)
	}
	if stitcher == nil {
		return nil, fmt.Errorf("stitch: group %q has no stitcher", cfg.Group)
	}
	if cfg.WorkWidth <= 0 || cfg.WorkHeight <= 0 {
		return nil, fmt.Errorf("stitch: group %q: invalid working size %dx%d", cfg.Group, cfg.WorkWidth, cfg.WorkHeight)
	}
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("stitch: group %q: input %d is nil", cfg.Group, i)
		}
	}

	return &Stage{
		cfg:      cfg,
		inputs:   inputs,
		stitcher: stitcher,
		out:      frameslot.New("stitch-" + cfg.Group),
	}, nil
}

// Output returns the slot receiving stitched frames.
func (s *Stage) Output() *frameslot.Slot {
	return s.out
}

// Step runs one stitch cycle.
//
//  1. Read the latest frame of every input (skip if any is absent, or if
//     no camera produced a new frame since the last publish)
//  2. Resize each to the working size
//  3. Stitch, stamp a fresh sequence number, publish
func (s *Stage) Step() (stage.Result, error) {
	frames := make([]*frameslot.Frame, len(s.inputs))
	inputSeqs := make([]uint64, len(s.inputs))
	for i, in := range s.inputs {
		f, ok := in.Latest()
		if !ok {
			return stage.Skipped, nil
		}
		frames[i] = f
		inputSeqs[i] = f.Seq
	}

	if slices.Equal(inputSeqs, s.stitched) {
		return stage.Skipped, nil
	}

	for i, f := range frames {
		resized, err := imaging.Resize(f, s.cfg.WorkWidth, s.cfg.WorkHeight, s.cfg.Quality)
		if err != nil {
			return stage.Skipped, fmt.Errorf("%w: group %s input %d (seq %d): %v",
				ErrStitchFailure, s.cfg.Group, i, f.Seq, err)
		}
		frames[i] = resized
	}

	out, err := s.stitcher.Stitch(frames)
	if err != nil {
		return stage.Skipped, fmt.Errorf("group %s inputs %v: %w", s.cfg.Group, inputSeqs, err)
	}

	out.Seq = s.seq.Next()
	out.Timestamp = time.Now()
	out.Source = "stitch-" + s.cfg.Group
	out.TraceID = uuid.New().String()
	s.out.Publish(out)
	s.stitched = inputSeqs

	slog.Debug("stitch: frame published",
		"group", s.cfg.Group,
		"seq", out.Seq,
		"inputs", inputSeqs,
		"size", fmt.Sprintf("%dx%d", out.Width, out.Height),
	)

	return stage.Published, nil
}

// checkInputs validates a stitcher's inputs share one geometry.
func checkInputs(frames []*frameslot.Frame) (width, height int, err error) {
	if len(frames) == 0 {
		return 0, 0, fmt.Errorf("%w: no input frames", ErrStitchFailure)
	}
	width, height = frames[0].Width, frames[0].Height
	for i, f := range frames {
		if err := f.Validate(); err != nil {
			return 0, 0, fmt.Errorf("%w: input %d: %v", ErrStitchFailure, i, err)
		}
		if f.Width != width || f.Height != height {
			return 0, 0, fmt.Errorf("%w: input %d is %dx%d, expected %dx%d",
				ErrStitchFailure, i, f.Width, f.Height, width, height)
		}
	}
	return width, height, nil
}
