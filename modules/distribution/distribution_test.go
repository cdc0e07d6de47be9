package distribution_test

import (
	"bytes"
	"context"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/e7canasta/orion-rig360/modules/distribution"
	"github.com/e7canasta/orion-rig360/modules/frameslot"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func frame(seq uint64, w, h int) *frameslot.Frame {
	f := frameslot.NewFrame(w, h)
	for i := range f.Data {
		f.Data[i] = byte(i)
	}
	f.Seq = seq
	return f
}

func newServer(src distribution.Source) (*distribution.MJPEG, *gin.Engine) {
	m := distribution.NewMJPEG(src, distribution.MJPEGOptions{PollInterval: 5 * time.Millisecond})
	r := gin.New()
	m.Register(r)
	return m, r
}

func TestSnapshotBeforeFirstFrame(t *testing.T) {
	_, r := newServer(frameslot.New("final"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSnapshot(t *testing.T) {
	slot := frameslot.New("final")
	slot.Publish(frame(7, 32, 16))
	m, r := newServer(slot)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshot.jpg", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if seq := w.Header().Get("X-Frame-Seq"); seq != "7" {
		t.Errorf("X-Frame-Seq = %q, want 7", seq)
	}

	img, err := jpeg.Decode(w.Body)
	if err != nil {
		t.Fatalf("body is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 16 {
		t.Errorf("image bounds = %v", b)
	}
	if m.Stats().Served != 1 {
		t.Errorf("served = %d, want 1", m.Stats().Served)
	}
}

// TestStream validates the multipart stream picks up new frames.
//
// Scenario:
//  1. Client connects before any frame exists (waits, no error)
//  2. First frame published → first part
//  3. Newer frame published → second part
func TestStream(t *testing.T) {
	slot := frameslot.New("final")
	m, r := newServer(slot)

	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/video_feed", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /video_feed failed: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" || params["boundary"] != distribution.Boundary {
		t.Fatalf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}

	slot.Publish(frame(1, 16, 8))
	mr := multipart.NewReader(resp.Body, params["boundary"])

	readJPEG := func() []byte {
		t.Helper()
		part, err := mr.NextPart()
		if err != nil {
			t.Fatalf("NextPart() failed: %v", err)
		}
		if ct := part.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("part Content-Type = %q", ct)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			t.Fatalf("reading part failed: %v", err)
		}
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			t.Fatalf("part is not a JPEG: %v", err)
		}
		return data
	}

	first := readJPEG()

	next := frame(2, 16, 8)
	for i := range next.Data {
		next.Data[i] = 255 - next.Data[i]
	}
	slot.Publish(next)

	second := readJPEG()
	if bytes.Equal(first, second) {
		t.Error("second part repeats the first frame")
	}

	if m.Stats().Clients != 1 {
		t.Errorf("clients = %d, want 1", m.Stats().Clients)
	}
}

func TestRTSPConfigValidation(t *testing.T) {
	slot := frameslot.New("final")

	if _, err := distribution.NewRTSPPusher(distribution.RTSPConfig{Width: 0, Height: 600, FPS: 15}, slot); err == nil {
		t.Error("expected error for zero width")
	}
	if _, err := distribution.NewRTSPPusher(distribution.RTSPConfig{Width: 800, Height: 600, FPS: 15, Port: 70000}, slot); err == nil {
		t.Error("expected error for bad port")
	}
	if _, err := distribution.NewRTSPPusher(distribution.RTSPConfig{Width: 800, Height: 600, FPS: 15}, nil); err == nil {
		t.Error("expected error for nil source")
	}

	p, err := distribution.NewRTSPPusher(distribution.RTSPConfig{Width: 800, Height: 600, FPS: 15}, slot)
	if err != nil {
		t.Fatalf("NewRTSPPusher() failed: %v", err)
	}
	if st := p.Stats(); st.Pushed != 0 || st.Restarts != 0 {
		t.Errorf("fresh pusher stats = %+v", st)
	}
}
