package combine

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/stage"
)

// Stage combines the latest local frame with the latest remote frames.
type Stage struct {
	layout   Layout
	inputs   []*frameslot.Slot
	out      *frameslot.Slot
	seq      frameslot.Sequencer
	combined []uint64 // input seqs of the last published frame
}

// NewStage wires the combine stage. local and every remote are read each
// cycle; the layout needs one placement per slot.
func NewStage(layout Layout, local *frameslot.Slot, remotes ...*frameslot.Slot) (*Stage, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	inputs := append([]*frameslot.Slot{local}, remotes...)
	for i, in := range inputs {
		if in == nil {
			return nil, fmt.Errorf("combine: input %d is nil", i)
		}
	}
	if len(inputs) != len(layout.Placements) {
		return nil, fmt.Errorf("combine: %d inputs for %d placements", len(inputs), len(layout.Placements))
	}

	return &Stage{
		layout: layout,
		inputs: inputs,
		out:    frameslot.New("combined"),
	}, nil
}

// Output returns the slot receiving composites.
func (s *Stage) Output() *frameslot.Slot {
	return s.out
}

// Step runs one combine cycle. Any absent input skips the cycle, as does a
// set of inputs identical to the last one combined.
func (s *Stage) Step() (stage.Result, error) {
	frames := make([]*frameslot.Frame, len(s.inputs))
	seqs := make([]uint64, len(s.inputs))
	for i, in := range s.inputs {
		f, ok := in.Latest()
		if !ok {
			return stage.Skipped, nil
		}
		frames[i] = f
		seqs[i] = f.Seq
	}

	if slices.Equal(seqs, s.combined) {
		return stage.Skipped, nil
	}

	out, err := Combine(s.layout, frames...)
	if err != nil {
		return stage.Skipped, fmt.Errorf("inputs %v: %w", seqs, err)
	}

	out.Seq = s.seq.Next()
	out.Timestamp = time.Now()
	out.Source = "combine"
	out.TraceID = uuid.New().String()
	s.out.Publish(out)
	s.combined = seqs

	slog.Debug("combine: frame published", "seq", out.Seq, "inputs", seqs)
	return stage.Published, nil
}
