package session

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/popcast/popcast/internal/media"
	"github.com/popcast/popcast/internal/msgchan"
	"github.com/popcast/popcast/internal/status"
)

// fakePeerConn records every call the session makes so negotiation order can
// be asserted without a network stack.
type fakePeerConn struct {
	addedTracks   []webrtc.TrackLocal
	applied       []webrtc.ICECandidateInit
	localDescs    []webrtc.SessionDescription
	remoteDescs   []webrtc.SessionDescription
	closeCount    int
	onState       func(webrtc.PeerConnectionState)
	addTrackErr   error
	createOffErr  error
	setRemoteErr  error
	addCandErr    error
}

func (f *fakePeerConn) AddTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	if f.addTrackErr != nil {
		return nil, f.addTrackErr
	}
	f.addedTracks = append(f.addedTracks, t)
	return nil, nil
}

func (f *fakePeerConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if f.createOffErr != nil {
		return webrtc.SessionDescription{}, f.createOffErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (f *fakePeerConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (f *fakePeerConn) SetLocalDescription(d webrtc.SessionDescription) error {
	f.localDescs = append(f.localDescs, d)
	return nil
}

func (f *fakePeerConn) SetRemoteDescription(d webrtc.SessionDescription) error {
	if f.setRemoteErr != nil {
		return f.setRemoteErr
	}
	f.remoteDescs = append(f.remoteDescs, d)
	return nil
}

func (f *fakePeerConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	if f.addCandErr != nil {
		return f.addCandErr
	}
	f.applied = append(f.applied, c)
	return nil
}

func (f *fakePeerConn) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (f *fakePeerConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakePeerConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.onState = fn
}

func (f *fakePeerConn) Close() error {
	f.closeCount++
	return nil
}

func cand(s string) *webrtc.ICECandidateInit {
	return &webrtc.ICECandidateInit{Candidate: s}
}

func TestCandidatesQueueUntilRemoteDescription(t *testing.T) {
	fake := &fakePeerConn{}
	s := wrap(fake, status.Nop{})

	for _, c := range []string{"first", "second", "third"} {
		if err := s.AddRemoteCandidate(cand(c)); err != nil {
			t.Fatalf("AddRemoteCandidate(%s): %v", c, err)
		}
	}
	if len(fake.applied) != 0 {
		t.Fatalf("candidates applied before remote description: %v", fake.applied)
	}

	if _, err := s.ApplyRemoteOffer(msgchan.Description{Type: "offer", SDP: "v=0"}); err != nil {
		t.Fatalf("ApplyRemoteOffer: %v", err)
	}

	if len(fake.applied) != 3 {
		t.Fatalf("expected 3 flushed candidates, got %d", len(fake.applied))
	}
	for i, want := range []string{"first", "second", "third"} {
		if fake.applied[i].Candidate != want {
			t.Errorf("flush order broken at %d: got %s, want %s", i, fake.applied[i].Candidate, want)
		}
	}

	// After the flush, candidates bypass the queue.
	if err := s.AddRemoteCandidate(cand("fourth")); err != nil {
		t.Fatalf("post-flush AddRemoteCandidate: %v", err)
	}
	if len(fake.applied) != 4 || fake.applied[3].Candidate != "fourth" {
		t.Fatalf("post-flush candidate not applied directly: %v", fake.applied)
	}
	if len(s.pending) != 0 {
		t.Fatalf("pending queue not emptied: %v", s.pending)
	}
}

func TestNilCandidateIsEndMarker(t *testing.T) {
	fake := &fakePeerConn{}
	s := wrap(fake, status.Nop{})

	if err := s.AddRemoteCandidate(nil); err != nil {
		t.Fatalf("nil candidate must be a no-op, got %v", err)
	}
	if len(s.pending) != 0 {
		t.Fatal("nil candidate must never be queued")
	}
}

func TestAnswerWithoutOfferIsRejected(t *testing.T) {
	fake := &fakePeerConn{}
	s := wrap(fake, status.Nop{})

	err := s.ApplyRemoteAnswer(msgchan.Description{Type: "answer", SDP: "v=0"})
	if !errors.Is(err, ErrNoActiveOffer) {
		t.Fatalf("got %v, want ErrNoActiveOffer", err)
	}
	if len(fake.remoteDescs) != 0 {
		t.Fatal("remote description must not be applied without a local offer")
	}
}

func TestOfferThenAnswerFlushesQueue(t *testing.T) {
	fake := &fakePeerConn{}
	s := wrap(fake, status.Nop{})

	stream := media.NewStream(nil, nil)
	offer, err := s.CreateLocalOffer(stream)
	if err != nil {
		t.Fatalf("CreateLocalOffer: %v", err)
	}
	if offer.Type != "offer" || offer.SDP == "" {
		t.Fatalf("unexpected offer %+v", offer)
	}
	if len(fake.localDescs) != 1 {
		t.Fatalf("local description not set: %v", fake.localDescs)
	}

	if err := s.AddRemoteCandidate(cand("early")); err != nil {
		t.Fatalf("AddRemoteCandidate: %v", err)
	}
	if err := s.ApplyRemoteAnswer(msgchan.Description{Type: "answer", SDP: "v=0"}); err != nil {
		t.Fatalf("ApplyRemoteAnswer: %v", err)
	}
	if len(fake.applied) != 1 || fake.applied[0].Candidate != "early" {
		t.Fatalf("queued candidate not flushed on answer: %v", fake.applied)
	}
}

func TestCreateLocalOfferAttachesTracks(t *testing.T) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "popcast",
	)
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}

	fake := &fakePeerConn{}
	s := wrap(fake, status.Nop{})

	if _, err := s.CreateLocalOffer(media.NewStream([]webrtc.TrackLocal{track}, nil)); err != nil {
		t.Fatalf("CreateLocalOffer: %v", err)
	}
	if len(fake.addedTracks) != 1 {
		t.Fatalf("expected 1 attached track, got %d", len(fake.addedTracks))
	}
}

func TestOfferFailureWrapsSentinel(t *testing.T) {
	fake := &fakePeerConn{createOffErr: errors.New("boom")}
	s := wrap(fake, status.Nop{})

	_, err := s.CreateLocalOffer(media.NewStream(nil, nil))
	if !errors.Is(err, ErrOfferCreationFailed) {
		t.Fatalf("got %v, want ErrOfferCreationFailed", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fake := &fakePeerConn{}
	s := wrap(fake, status.Nop{})

	stops := 0
	stream := media.NewStream(nil, func() { stops++ })
	if _, err := s.CreateLocalOffer(stream); err != nil {
		t.Fatalf("CreateLocalOffer: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if fake.closeCount != 1 {
		t.Errorf("transport closed %d times, want 1", fake.closeCount)
	}
	if stops != 1 {
		t.Errorf("stream stopped %d times, want 1", stops)
	}
	if s.State() != StateClosed {
		t.Errorf("state after close is %s, want %s", s.State(), StateClosed)
	}

	if err := s.AddRemoteCandidate(cand("late")); err != nil {
		t.Errorf("candidate after close must be dropped silently, got %v", err)
	}
	if _, err := s.CreateLocalOffer(media.NewStream(nil, nil)); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("offer after close: got %v, want ErrSessionClosed", err)
	}
}

func TestConnectionStateProjection(t *testing.T) {
	fake := &fakePeerConn{}
	s := wrap(fake, status.Nop{})

	var seen []State
	s.OnStateChange(func(st State) { seen = append(seen, st) })

	fake.onState(webrtc.PeerConnectionStateConnecting)
	fake.onState(webrtc.PeerConnectionStateConnected)
	fake.onState(webrtc.PeerConnectionStateDisconnected)
	fake.onState(webrtc.PeerConnectionStateFailed)

	want := []State{StateConnecting, StateConnected, StateDisconnected, StateFailed}
	if len(seen) != len(want) {
		t.Fatalf("got %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, seen[i], want[i])
		}
	}
	if s.State() != StateFailed {
		t.Errorf("final state %s, want %s", s.State(), StateFailed)
	}

	if !StateFailed.Down() || !StateDisconnected.Down() || StateConnected.Down() {
		t.Error("Down() projection wrong")
	}
}
