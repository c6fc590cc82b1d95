package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/popcast/popcast/internal/status"
)

// LogSink is a headless playback sink: it drains inbound RTP to keep the
// transport flowing, counts received bytes, and reports play/pause
// transitions. The CLI uses it where a real rendering surface would sit.
type LogSink struct {
	rep status.Reporter

	paused   atomic.Bool
	received atomic.Int64
}

// NewLogSink creates a sink reporting through rep.
func NewLogSink(rep status.Reporter) *LogSink {
	return &LogSink{rep: rep}
}

// Attach starts draining the remote track in the background.
func (s *LogSink) Attach(track *webrtc.TrackRemote) error {
	status.Reportf(s.rep, false, "receiving %s track %s", track.Kind(), track.ID())

	go func() {
		buf := make([]byte, 1500)
		for {
			n, _, err := track.Read(buf)
			if err != nil {
				return
			}
			s.received.Add(int64(n))
		}
	}()
	return nil
}

// Play resumes playback.
func (s *LogSink) Play() error {
	s.paused.Store(false)
	status.Reportf(s.rep, false, "playback playing")
	return nil
}

// Pause suspends playback.
func (s *LogSink) Pause() error {
	s.paused.Store(true)
	status.Reportf(s.rep, false, "playback paused")
	return nil
}

// Paused reports the sink's playback state.
func (s *LogSink) Paused() bool {
	return s.paused.Load()
}

// ReceivedBytes returns the cumulative RTP byte count drained from attached
// tracks.
func (s *LogSink) ReceivedBytes() int64 {
	return s.received.Load()
}
