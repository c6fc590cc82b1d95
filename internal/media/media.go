// Package media defines the capture and playback boundary the session core
// drives: turning a locally playing source into sendable tracks, and feeding
// received tracks into a local playback sink.
package media

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
)

var (
	// ErrCaptureUnsupported means the platform exposes no capture primitive
	// for the requested source.
	ErrCaptureUnsupported = errors.New("media capture not supported")

	// ErrNoTracks means capture nominally succeeded but produced zero
	// tracks, typically because the source was not yet playing.
	ErrNoTracks = errors.New("captured stream has no tracks")
)

// Stream is a live set of sendable tracks produced by a Capturer.
type Stream struct {
	tracks []webrtc.TrackLocal
	stop   func()
	once   sync.Once
}

// NewStream bundles tracks with the function that halts their production.
func NewStream(tracks []webrtc.TrackLocal, stop func()) *Stream {
	return &Stream{tracks: tracks, stop: stop}
}

// Tracks returns the track list. Callers must not mutate it.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	return s.tracks
}

// Stop halts every track. Safe to call any number of times; the underlying
// stop runs exactly once.
func (s *Stream) Stop() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// Capturer produces a live Stream from a locally playing source. The source
// must already be playing when Capture is called; a stream captured from an
// idle source may carry zero tracks, which callers must treat as ErrNoTracks.
type Capturer interface {
	Capture() (*Stream, error)
}

// Player controls local playback state.
type Player interface {
	Play() error
	Pause() error
}

// Sink is a Player that can also present inbound remote tracks.
type Sink interface {
	Player
	Attach(track *webrtc.TrackRemote) error
}
