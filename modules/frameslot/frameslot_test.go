package frameslot_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

func taggedFrame(seq uint64) *frameslot.Frame {
	f := frameslot.NewFrame(4, 2)
	f.Seq = seq
	for i := range f.Data {
		f.Data[i] = byte(seq)
	}
	return f
}

// TestLatestEmpty validates an unpublished slot reports absence.
func TestLatestEmpty(t *testing.T) {
	slot := frameslot.New("empty")

	frame, ok := slot.Latest()
	if ok || frame != nil {
		t.Fatalf("Latest() on empty slot = (%v, %v), want (nil, false)", frame, ok)
	}
}

// TestMonotonicity validates the last-value-wins law.
//
// Contract:
//   - After publish(f1..fn), Latest() returns fn
//   - A reader polling during the sequence never sees a sequence number go backwards
func TestMonotonicity(t *testing.T) {
	slot := frameslot.New("mono")
	seq := &frameslot.Sequencer{}

	done := make(chan struct{})
	var readerErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var last uint64
		for {
			select {
			case <-done:
				return
			default:
			}
			f, ok := slot.Latest()
			if !ok {
				continue
			}
			if f.Seq < last {
				readerErr = errors.New("sequence went backwards")
				return
			}
			last = f.Seq
		}
	}()

	for i := 0; i < 5000; i++ {
		slot.Publish(taggedFrame(seq.Next()))
		if f, _ := slot.Latest(); f.Seq != seq.Current() {
			t.Fatalf("Latest().Seq = %d right after publishing %d", f.Seq, seq.Current())
		}
	}
	close(done)
	wg.Wait()

	if readerErr != nil {
		t.Fatal(readerErr)
	}

	f, ok := slot.Latest()
	if !ok || f.Seq != 5000 {
		t.Fatalf("final Latest() = %v, want seq 5000", f)
	}
	t.Logf("✅ 5000 publishes, reader never observed a regression")
}

// TestAtomicity validates readers never observe a torn frame.
//
// Scenario:
//  1. 4 publishers write frames whose every byte equals byte(seq)
//  2. 4 readers check every observed frame is internally consistent
func TestAtomicity(t *testing.T) {
	slot := frameslot.New("atomic")

	const publishers, readers, perPublisher = 4, 4, 2000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var torn sync.Map
	var rwg sync.WaitGroup
	for r := 0; r < readers; r++ {
		rwg.Add(1)
		go func() {
			defer rwg.Done()
			for ctx.Err() == nil {
				f, ok := slot.Latest()
				if !ok {
					continue
				}
				if err := f.Validate(); err != nil {
					torn.Store(f.Seq, err.Error())
					continue
				}
				for _, b := range f.Data {
					if b != byte(f.Seq) {
						torn.Store(f.Seq, "pixel mismatch")
						break
					}
				}
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perPublisher; i++ {
				slot.Publish(taggedFrame(uint64(p*perPublisher + i + 1)))
			}
		}(p)
	}
	pwg.Wait()
	cancel()
	rwg.Wait()

	torn.Range(func(k, v any) bool {
		t.Errorf("torn frame seq=%v: %v", k, v)
		return true
	})
}

// TestNextBlocksUntilNewer validates wait-style consumption.
func TestNextBlocksUntilNewer(t *testing.T) {
	slot := frameslot.New("next")
	slot.Publish(taggedFrame(1))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	f, err := slot.Next(ctx, 0)
	if err != nil || f.Seq != 1 {
		t.Fatalf("Next(0) = (%v, %v), want seq 1", f, err)
	}

	got := make(chan *frameslot.Frame, 1)
	go func() {
		f, err := slot.Next(ctx, 1)
		if err != nil {
			t.Errorf("Next(1) error: %v", err)
		}
		got <- f
	}()

	select {
	case <-got:
		t.Fatal("Next(1) returned before a newer frame was published")
	case <-time.After(20 * time.Millisecond):
	}

	slot.Publish(taggedFrame(2))

	select {
	case f := <-got:
		if f == nil || f.Seq != 2 {
			t.Fatalf("Next(1) = %v, want seq 2", f)
		}
	case <-time.After(time.Second):
		t.Fatal("Next(1) did not wake up after publish")
	}
}

// TestNextCancellation validates Next honours context cancellation.
func TestNextCancellation(t *testing.T) {
	slot := frameslot.New("cancel")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := slot.Next(ctx, 0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Next() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Next() did not return after cancel")
	}
}

// TestCloseWakesWaiters validates Close releases blocked readers and is idempotent.
func TestCloseWakesWaiters(t *testing.T) {
	slot := frameslot.New("close")

	errCh := make(chan error, 1)
	go func() {
		_, err := slot.Next(context.Background(), 0)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	slot.Close()
	slot.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, frameslot.ErrClosed) {
			t.Fatalf("Next() error = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Close() did not wake Next()")
	}

	slot.Publish(taggedFrame(9))
	if _, ok := slot.Latest(); ok {
		t.Error("Publish after Close should be a no-op")
	}
}

// TestPublishKeepsHighestSeq validates Latest never goes backwards with
// several producers.
//
// Contract:
//   - A frame older than the held one is dropped and counted
//   - An equal Seq still replaces the held frame
func TestPublishKeepsHighestSeq(t *testing.T) {
	slot := frameslot.New("highest")

	slot.Publish(taggedFrame(5))
	slot.Publish(taggedFrame(3))

	f, ok := slot.Latest()
	if !ok || f.Seq != 5 {
		t.Fatalf("Latest() after 5 then 3 = %v, want seq 5", f)
	}

	again := taggedFrame(5)
	slot.Publish(again)
	if f, _ := slot.Latest(); f != again {
		t.Error("equal seq did not replace the held frame")
	}

	st := slot.Stats()
	if st.Rejected != 1 || st.Published != 2 || st.LastSeq != 5 {
		t.Errorf("stats = %+v, want rejected=1 published=2 last_seq=5", st)
	}
}

// TestConcurrentProducersNeverRegress validates N producers sharing one
// Sequencer: readers never see Seq go backwards and the highest Seq wins.
func TestConcurrentProducersNeverRegress(t *testing.T) {
	slot := frameslot.New("shared")
	seq := &frameslot.Sequencer{}

	const producers, perProducer = 4, 1000

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	regressed := make(chan string, 1)
	var rwg sync.WaitGroup
	rwg.Add(1)
	go func() {
		defer rwg.Done()
		var last uint64
		for ctx.Err() == nil {
			if f, ok := slot.Latest(); ok {
				if f.Seq < last {
					select {
					case regressed <- "sequence went backwards":
					default:
					}
					return
				}
				last = f.Seq
			}
		}
	}()

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func() {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				slot.Publish(taggedFrame(seq.Next()))
			}
		}()
	}
	pwg.Wait()
	cancel()
	rwg.Wait()

	select {
	case msg := <-regressed:
		t.Fatal(msg)
	default:
	}

	f, ok := slot.Latest()
	if !ok || f.Seq != producers*perProducer {
		t.Fatalf("final Latest() = %v, want seq %d", f, producers*perProducer)
	}
	st := slot.Stats()
	if st.Published+st.Rejected != producers*perProducer {
		t.Errorf("published %d + rejected %d != %d", st.Published, st.Rejected, producers*perProducer)
	}
}

// TestStatsOverwrite validates drop accounting.
func TestStatsOverwrite(t *testing.T) {
	slot := frameslot.New("stats")

	slot.Publish(taggedFrame(1))
	slot.Publish(taggedFrame(2)) // 1 dropped
	if _, err := slot.Next(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	slot.Publish(taggedFrame(3)) // 2 was taken, no drop

	st := slot.Stats()
	if st.Published != 3 {
		t.Errorf("Published = %d, want 3", st.Published)
	}
	if st.Overwritten != 1 {
		t.Errorf("Overwritten = %d, want 1", st.Overwritten)
	}
	if st.LastSeq != 3 {
		t.Errorf("LastSeq = %d, want 3", st.LastSeq)
	}
	if st.IsStale {
		t.Error("fresh slot reported stale")
	}
	if st.Name != "stats" {
		t.Errorf("Name = %q", st.Name)
	}
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   *frameslot.Frame
		wantErr bool
	}{
		{"valid", frameslot.NewFrame(3, 2), false},
		{"short buffer", &frameslot.Frame{Width: 3, Height: 2, Format: frameslot.FormatBGR24, Data: make([]byte, 5)}, true},
		{"zero width", &frameslot.Frame{Width: 0, Height: 2, Format: frameslot.FormatBGR24}, true},
		{"overflowing dimensions", &frameslot.Frame{Width: math.MaxInt, Height: math.MaxInt, Format: frameslot.FormatBGR24, Data: make([]byte, 3)}, true},
		{"side above max", &frameslot.Frame{Width: frameslot.MaxDimension + 1, Height: 1, Format: frameslot.FormatBGR24, Data: make([]byte, 3*(frameslot.MaxDimension+1))}, true},
		{"unknown format", &frameslot.Frame{Width: 1, Height: 1, Data: make([]byte, 3)}, true},
		{"nil", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameClone(t *testing.T) {
	f := taggedFrame(7)
	c := f.Clone()
	c.Data[0] = 0xFF
	if f.Data[0] != 7 {
		t.Error("Clone shares pixel memory with the original")
	}
	if c.Seq != 7 || c.Width != f.Width {
		t.Errorf("Clone lost metadata: %+v", c)
	}
}
