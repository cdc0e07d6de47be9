// Package frameslot implements the last-value-wins slots that connect the
// stages of the 360° rig pipeline.
//
// # Philosophy
//
// "Drop frames, never queue. Freshness > Completeness."
//
// Every stage of the rig reads "the latest frame" from the stage before it.
// A Slot keeps at most one frame: Publish replaces whatever is held, an
// unread frame is silently dropped and no backlog ever builds up. A slow
// camera or a slow network link therefore never stalls unrelated stages.
//
// # Architecture
//
//	capture[cam_i] → Slot → stitch → Slot → transport → Slot → combine → Slot → overlay → Slot → distribution
//
// Each arrow is an independent goroutine; the Slot is the only shared state
// between them and is guarded by its own mutex.
//
// # Ordering
//
// Every Slot has exactly one producer, and every producer stamps frames from
// its own Sequencer. Readers of a Slot therefore observe monotonically
// non-decreasing sequence numbers. There is no ordering across slots: a
// combine cycle may pair a local frame with a remote frame from a different
// wall-clock moment.
//
// # Basic Usage
//
//	seq := &frameslot.Sequencer{}
//	slot := frameslot.New("cam-0")
//
//	// producer
//	f := &frameslot.Frame{Width: 640, Height: 480, Format: frameslot.FormatBGR24, Data: pixels}
//	f.Seq = seq.Next()
//	slot.Publish(f)
//
//	// poll-style consumer (never blocks)
//	if latest, ok := slot.Latest(); ok {
//	    render(latest)
//	}
//
//	// wait-style consumer (blocks until something newer than last arrives)
//	next, err := slot.Next(ctx, last)
//
// # Immutability
//
// A published frame is shared by reference with every reader. Producers
// MUST NOT touch Frame.Data after Publish and readers MUST treat it as
// read-only; stages that transform a frame allocate a new one.
package frameslot
