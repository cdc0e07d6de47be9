package overlay

import (
	"fmt"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
	"github.com/e7canasta/orion-rig360/modules/stage"
)

// Stage applies the overlay to each new composite. Output frames keep the
// sequence number of the frame they were made from.
type Stage struct {
	overlay *Overlay
	in      *frameslot.Slot
	out     *frameslot.Slot
	lastSeq uint64
	applied bool
}

// NewStage wires the overlay stage.
func NewStage(o *Overlay, in *frameslot.Slot) (*Stage, error) {
	if o == nil || in == nil {
		return nil, fmt.Errorf("overlay: stage needs an overlay and an input slot")
	}
	return &Stage{overlay: o, in: in, out: frameslot.New("final")}, nil
}

// Output returns the final slot.
func (s *Stage) Output() *frameslot.Slot {
	return s.out
}

// Step overlays the newest input frame, once per input frame.
func (s *Stage) Step() (stage.Result, error) {
	f, ok := s.in.Latest()
	if !ok || (s.applied && f.Seq == s.lastSeq) {
		return stage.Skipped, nil
	}

	s.out.Publish(s.overlay.Apply(f))
	s.lastSeq = f.Seq
	s.applied = true
	return stage.Published, nil
}
