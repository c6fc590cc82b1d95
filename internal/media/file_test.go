package media

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeIVF builds a minimal VP8 IVF file with the given frame payloads.
func writeIVF(t *testing.T, frames ...[]byte) string {
	t.Helper()

	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:6], 0)  // version
	binary.LittleEndian.PutUint16(header[6:8], 32) // header size
	copy(header[8:12], "VP80")
	binary.LittleEndian.PutUint16(header[12:14], 640)
	binary.LittleEndian.PutUint16(header[14:16], 480)
	binary.LittleEndian.PutUint32(header[16:20], 30) // timebase denominator
	binary.LittleEndian.PutUint32(header[20:24], 1)  // timebase numerator
	binary.LittleEndian.PutUint32(header[24:28], uint32(len(frames)))

	buf := header
	for i, frame := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:4], uint32(len(frame)))
		binary.LittleEndian.PutUint64(fh[4:12], uint64(i))
		buf = append(buf, fh...)
		buf = append(buf, frame...)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write ivf: %v", err)
	}
	return path
}

func TestFileSourceCaptureProducesOneTrack(t *testing.T) {
	path := writeIVF(t, []byte{0x10, 0x02, 0x00}, []byte{0x30, 0x01, 0x00})

	src := NewFileSource(path)
	stream, err := src.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	defer stream.Stop()

	if n := len(stream.Tracks()); n != 1 {
		t.Fatalf("captured %d tracks, want 1", n)
	}

	stream.Stop()
	stream.Stop() // repeated stops stay safe
}

func TestFileSourcePlayPause(t *testing.T) {
	src := NewFileSource("unused")
	if !src.Playing() {
		t.Fatal("source must start playing")
	}
	if err := src.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if src.Playing() {
		t.Fatal("Pause must stop pacing")
	}
	if err := src.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if !src.Playing() {
		t.Fatal("Play must resume pacing")
	}
}

func TestFileSourceMissingFile(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "absent.ivf"))
	if _, err := src.Capture(); !errors.Is(err, ErrCaptureUnsupported) {
		t.Fatalf("got %v, want ErrCaptureUnsupported", err)
	}
}

func TestFileSourceRejectsNonIVF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.ivf")
	if err := os.WriteFile(path, []byte("not an ivf container"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	src := NewFileSource(path)
	if _, err := src.Capture(); !errors.Is(err, ErrCaptureUnsupported) {
		t.Fatalf("got %v, want ErrCaptureUnsupported", err)
	}
}
