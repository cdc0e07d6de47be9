package gstutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// Launch parses a gst-launch style description and returns the pipeline
// together with the element named elementName. The pipeline is left in NULL
// state.
func Launch(description, elementName string) (*gst.Pipeline, *gst.Element, error) {
	// Safe to call multiple times
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	elem, err := pipeline.GetElementByName(elementName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return nil, nil, fmt.Errorf("element %q not found in pipeline: %w", elementName, err)
	}

	return pipeline, elem, nil
}

// PipelineError is a GStreamer bus error with its classification.
type PipelineError struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

func newPipelineError(msg *gst.Message) *PipelineError {
	gerr := msg.ParseError()
	return &PipelineError{
		Category: ClassifyGStreamerError(gerr),
		Message:  gerr.Error(),
		Debug:    gerr.DebugString(),
	}
}

// errEOS is reported when the pipeline signals end of stream.
var errEOS = &PipelineError{Category: ErrCategoryUnknown, Message: "end of stream"}

// Play switches the pipeline to PLAYING and waits until it gets there, the
// bus reports an error, ctx is done or timeout expires. On failure the
// pipeline is set back to NULL.
func Play(ctx context.Context, pipeline *gst.Pipeline, timeout time.Duration) error {
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			pipeline.SetState(gst.StateNull)
			return err
		}

		// Poll with short timeout for responsive cancellation
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			perr := newPipelineError(msg)
			pipeline.SetState(gst.StateNull)
			return perr

		case gst.MessageEOS:
			pipeline.SetState(gst.StateNull)
			return errEOS

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, state := msg.ParseStateChanged()
				slog.Debug("gstutil: pipeline state changed", "from", old, "to", state)
				if state == gst.StatePlaying {
					return nil
				}
			}
		}
	}

	pipeline.SetState(gst.StateNull)
	return fmt.Errorf("pipeline did not reach PLAYING within %v", timeout)
}

// PollError drains pending bus messages without blocking and returns the
// first error or end-of-stream found (nil when the pipeline is healthy).
func PollError(pipeline *gst.Pipeline) error {
	bus := pipeline.GetPipelineBus()

	for {
		msg := bus.Pop()
		if msg == nil {
			return nil
		}

		switch msg.Type() {
		case gst.MessageError:
			return newPipelineError(msg)
		case gst.MessageEOS:
			return errEOS
		}
	}
}
