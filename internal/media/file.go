package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// FileSource plays a VP8/IVF file as the locally playing video. It is both
// the capture source and the primary side's playback surface: pausing stops
// frame pacing, playing resumes it. The file loops on EOF.
type FileSource struct {
	path   string
	paused atomic.Bool
}

// NewFileSource creates a source for the given IVF file. The file is not
// touched until Capture.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Play resumes frame pacing.
func (f *FileSource) Play() error {
	f.paused.Store(false)
	return nil
}

// Pause suspends frame pacing without tearing the stream down.
func (f *FileSource) Pause() error {
	f.paused.Store(true)
	return nil
}

// Playing reports whether frames are currently being paced out.
func (f *FileSource) Playing() bool {
	return !f.paused.Load()
}

// Capture opens the file and starts pumping frames into a local VP8 track.
// A file that cannot be opened or is not IVF surfaces as ErrCaptureUnsupported.
func (f *FileSource) Capture() (*Stream, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnsupported, err)
	}

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnsupported, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "popcast",
	)
	if err != nil {
		file.Close()
		return nil, err
	}

	done := make(chan struct{})
	go f.pump(file, reader, header, track, done)

	return NewStream([]webrtc.TrackLocal{track}, func() { close(done) }), nil
}

// pump paces frames out of the file at the IVF timebase until done closes,
// rewinding on EOF. It owns the file handle.
func (f *FileSource) pump(file *os.File, reader *ivfreader.IVFReader, header *ivfreader.IVFFileHeader, track *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	defer file.Close()

	frameDuration := time.Millisecond * time.Duration(
		float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator)*1000,
	)
	if frameDuration <= 0 {
		frameDuration = 33 * time.Millisecond
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		if f.paused.Load() {
			continue
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return
			}
			if reader, _, err = ivfreader.NewWith(file); err != nil {
				return
			}
			continue
		}
		if err != nil {
			return
		}

		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return
		}
	}
}
