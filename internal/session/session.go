// Package session owns one peer transport for the lifetime of one negotiated
// media hand-off and presents a uniform surface to both role controllers.
// Sessions are replaced, never reused: a new handshake gets a new Session.
package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/popcast/popcast/internal/media"
	"github.com/popcast/popcast/internal/msgchan"
	"github.com/popcast/popcast/internal/status"
)

var (
	// ErrOfferCreationFailed wraps any failure while producing the local offer.
	ErrOfferCreationFailed = errors.New("offer creation failed")

	// ErrNoActiveOffer means ApplyRemoteAnswer was called on a session that
	// never produced a local offer.
	ErrNoActiveOffer = errors.New("no active offer on this session")

	// ErrICEApplyFailed wraps a failure to apply a remote ICE candidate.
	ErrICEApplyFailed = errors.New("failed to apply remote ICE candidate")

	// ErrRemoteDescriptionFailed wraps a failure to apply a remote description.
	ErrRemoteDescriptionFailed = errors.New("failed to apply remote description")

	// ErrSessionClosed means the operation ran against an already-closed session.
	ErrSessionClosed = errors.New("session is closed")
)

// peerConn is the subset of *webrtc.PeerConnection the session drives,
// narrowed to an interface so tests can negotiate without a network stack.
type peerConn interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// Session wraps one peer transport instance. All methods are safe for
// concurrent use; callbacks fire on the transport's goroutines.
type Session struct {
	pc  peerConn
	rep status.Reporter

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit // candidates received before the remote description
	remoteSet bool
	offered   bool
	stream    *media.Stream // locally captured tracks, stopped on Close
	state     State
	closed    bool
	onState   func(State)
}

// New creates a Session backed by a fresh PeerConnection.
func New(rep status.Reporter, stunServers []string) (*Session, error) {
	pc, err := newPeerConnection(stunServers)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	return wrap(pc, rep), nil
}

func wrap(pc peerConn, rep status.Reporter) *Session {
	s := &Session{pc: pc, rep: rep, state: StateNew}
	pc.OnConnectionStateChange(s.handleStateChange)
	return s
}

func (s *Session) handleStateChange(raw webrtc.PeerConnectionState) {
	next := fromPeerConnectionState(raw)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = next
	fn := s.onState
	s.mu.Unlock()

	switch next {
	case StateDisconnected, StateFailed:
		status.Reportf(s.rep, true, "peer connection %s", next)
	default:
		status.Reportf(s.rep, false, "peer connection %s", next)
	}

	if fn != nil {
		fn(next)
	}
}

// OnStateChange registers the state-transition callback.
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the last observed connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnLocalCandidate registers the trickle-ICE callback. A nil candidate marks
// the end of gathering.
func (s *Session) OnLocalCandidate(fn func(*webrtc.ICECandidateInit)) {
	s.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

// OnTrack registers the inbound-track handler. Only the responder side ever
// sees it fire; the initiator is the media source.
func (s *Session) OnTrack(fn func(*webrtc.TrackRemote)) {
	s.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(t)
	})
}

// CreateLocalOffer attaches every track of stream to the transport and
// produces the serialized local offer. The session owns the stream from this
// point on and stops it when it closes.
func (s *Session) CreateLocalOffer(stream *media.Stream) (msgchan.Description, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return msgchan.Description{}, ErrSessionClosed
	}
	s.stream = stream
	s.mu.Unlock()

	for _, t := range stream.Tracks() {
		if _, err := s.pc.AddTrack(t); err != nil {
			return msgchan.Description{}, fmt.Errorf("%w: add track: %w", ErrOfferCreationFailed, err)
		}
	}

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return msgchan.Description{}, fmt.Errorf("%w: %w", ErrOfferCreationFailed, err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return msgchan.Description{}, fmt.Errorf("%w: %w", ErrOfferCreationFailed, err)
	}

	s.mu.Lock()
	s.offered = true
	s.mu.Unlock()

	return msgchan.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// ApplyRemoteOffer sets the remote description, flushes any queued
// candidates, then generates, applies, and returns the local answer.
func (s *Session) ApplyRemoteOffer(offer msgchan.Description) (msgchan.Description, error) {
	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.SDP,
	}); err != nil {
		return msgchan.Description{}, fmt.Errorf("%w: %w", ErrRemoteDescriptionFailed, err)
	}
	s.flushPending()

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return msgchan.Description{}, fmt.Errorf("%w: create answer: %w", ErrRemoteDescriptionFailed, err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return msgchan.Description{}, fmt.Errorf("%w: set answer: %w", ErrRemoteDescriptionFailed, err)
	}

	return msgchan.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// ApplyRemoteAnswer sets the remote description. Valid only after a local
// offer was produced on this same session.
func (s *Session) ApplyRemoteAnswer(answer msgchan.Description) error {
	s.mu.Lock()
	offered := s.offered
	s.mu.Unlock()
	if !offered {
		return ErrNoActiveOffer
	}

	if err := s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.SDP,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrRemoteDescriptionFailed, err)
	}
	s.flushPending()
	return nil
}

// flushPending applies queued candidates in arrival order, exactly once.
// The queue is empty from here on; later candidates apply directly.
func (s *Session) flushPending() {
	s.mu.Lock()
	s.remoteSet = true
	queued := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range queued {
		if err := s.pc.AddICECandidate(c); err != nil {
			status.Reportf(s.rep, true, "apply queued candidate: %v", err)
		}
	}
}

// AddRemoteCandidate queues or applies a remote candidate, depending on
// whether the remote description has been set yet. A nil candidate is the
// end-of-candidates marker and is never queued.
func (s *Session) AddRemoteCandidate(candidate *webrtc.ICECandidateInit) error {
	if candidate == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, *candidate)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.pc.AddICECandidate(*candidate); err != nil {
		return fmt.Errorf("%w: %w", ErrICEApplyFailed, err)
	}
	return nil
}

// Close releases the transport and stops every locally captured track.
// Every exit path of the owning controller converges here; calling it again
// is a no-op, so no resource is ever released twice.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	stream := s.stream
	s.stream = nil
	s.pending = nil
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	return s.pc.Close()
}
