package role

import (
	"encoding/json"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/popcast/popcast/internal/media"
	"github.com/popcast/popcast/internal/msgchan"
	"github.com/popcast/popcast/internal/session"
	"github.com/popcast/popcast/internal/status"
)

// Responder is the secondary context's controller. It announces itself to
// its opener, answers the offer, and plays the received stream.
type Responder struct {
	ch     *msgchan.Adapter
	sink   media.Sink
	rep    status.Reporter
	marker ReloadMarker
	cfg    Config

	mu         sync.Mutex
	sess       *session.Session
	pending    []webrtc.ICECandidateInit // candidates that outran the offer
	playback   PlaybackState
	onFallback func(url string)
}

var _ Controller = (*Responder)(nil)

// NewResponder wires the controller and arms the channel listener. The
// caller pins the opener's identity on the adapter; a responder context
// always knows who opened it.
func NewResponder(ch *msgchan.Adapter, sink media.Sink, marker ReloadMarker, rep status.Reporter, cfg Config) *Responder {
	if marker == nil {
		marker = &MemoryMarker{}
	}
	r := &Responder{
		ch:       ch,
		sink:     sink,
		rep:      rep,
		marker:   marker,
		cfg:      cfg.withDefaults(),
		playback: Playing,
	}
	ch.OnReceive(r.handleEnvelope)
	return r
}

// OnFallback registers the hook invoked when the initiator downgrades to
// direct-URL delivery.
func (r *Responder) OnFallback(fn func(url string)) {
	r.mu.Lock()
	r.onFallback = fn
	r.mu.Unlock()
}

// Mount announces the context to its opener: ready on first load, reloaded
// when the persisted marker shows this context ran before. Nothing else is
// sent until the opener's offer arrives.
func (r *Responder) Mount() error {
	sig := msgchan.SignalReady
	if r.marker.SeenBefore() {
		sig = msgchan.SignalReloaded
	} else {
		r.marker.MarkSeen()
	}
	return r.ch.Send(msgchan.NewControl(sig))
}

// Unload sends the best-effort parting signal: reloading when the context is
// about to come back (so the opener keeps its state), closed otherwise. The
// local session is torn down either way; a reload renegotiates from scratch.
func (r *Responder) Unload(reloading bool) {
	sig := msgchan.SignalClosed
	if reloading {
		sig = msgchan.SignalReloading
	}
	_ = r.ch.Send(msgchan.NewControl(sig))
	r.teardown()
}

func (r *Responder) handleEnvelope(env msgchan.Envelope) {
	guard(r.rep, func() {
		switch env.Kind {
		case msgchan.KindOffer:
			r.handleOffer(env.Desc)
		case msgchan.KindCandidate:
			r.handleCandidate(env.Candidate)
		case msgchan.KindControl:
			r.handleControl(env.Control)
		case msgchan.KindApp:
			r.handleApp(env.Raw)
		}
	})
}

// handleOffer tears down any previous session, answers the offer on a fresh
// one, and sends the answer back.
func (r *Responder) handleOffer(desc msgchan.Description) {
	sess, err := session.New(r.rep, r.cfg.STUNServers)
	if err != nil {
		status.Reportf(r.rep, true, "create peer session: %v", err)
		return
	}

	r.mu.Lock()
	prev := r.sess
	r.sess = sess
	held := r.pending
	r.pending = nil
	r.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	sess.OnLocalCandidate(func(init *webrtc.ICECandidateInit) {
		if !r.current(sess) {
			return
		}
		_ = r.ch.Send(msgchan.NewCandidate(init))
	})
	sess.OnTrack(func(track *webrtc.TrackRemote) {
		r.handleTrack(sess, track)
	})

	// Candidates that arrived ahead of this offer belong to it; hand them
	// to the session before the remote description so they flush in order.
	for i := range held {
		if err := sess.AddRemoteCandidate(&held[i]); err != nil {
			status.Reportf(r.rep, true, "apply candidate: %v", err)
		}
	}

	answer, err := sess.ApplyRemoteOffer(desc)
	if err != nil {
		status.Reportf(r.rep, true, "apply offer: %v", err)
		r.mu.Lock()
		if r.sess == sess {
			r.sess = nil
		}
		r.mu.Unlock()
		_ = sess.Close()
		return
	}

	if err := r.ch.Send(msgchan.NewAnswer(answer)); err != nil {
		status.Reportf(r.rep, true, "send answer: %v", err)
	}
}

// handleTrack attaches an inbound track to the playback sink and starts
// playback. A failed playback start is reported but the track stays
// attached; an autoplay restriction is no reason to drop the session.
func (r *Responder) handleTrack(sess *session.Session, track *webrtc.TrackRemote) {
	if !r.current(sess) {
		return
	}
	if err := r.sink.Attach(track); err != nil {
		status.Reportf(r.rep, true, "attach track: %v", err)
		return
	}
	if err := r.sink.Play(); err != nil {
		status.Reportf(r.rep, true, "start playback: %v", err)
		return
	}

	r.mu.Lock()
	r.playback = Playing
	r.mu.Unlock()
}

// handleCandidate applies a remote candidate, or holds it when no session
// exists yet: the channel is unordered, so a candidate can outrun the offer
// it belongs to.
func (r *Responder) handleCandidate(cand *webrtc.ICECandidateInit) {
	r.mu.Lock()
	sess := r.sess
	if sess == nil {
		if cand != nil {
			r.pending = append(r.pending, *cand)
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := sess.AddRemoteCandidate(cand); err != nil {
		status.Reportf(r.rep, true, "apply candidate: %v", err)
	}
}

func (r *Responder) handleControl(sig msgchan.Signal) {
	switch sig {
	case msgchan.SignalPlay:
		r.applyRemotePlayback(Playing)
	case msgchan.SignalPause:
		r.applyRemotePlayback(Paused)
	case msgchan.SignalClosed:
		r.teardown()
		status.Reportf(r.rep, false, "opener closed the session")
	}
}

// handleApp recognizes the fallback payload; anything else is someone
// else's application traffic and is left alone.
func (r *Responder) handleApp(raw json.RawMessage) {
	var msg fallbackMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != fallbackType {
		return
	}

	status.Reportf(r.rep, false, "falling back to direct delivery: %s", msg.URL)
	r.mu.Lock()
	fn := r.onFallback
	r.mu.Unlock()
	if fn != nil {
		fn(msg.URL)
	}
}

// applyRemotePlayback mirrors a playback change the opener owns. No echo.
func (r *Responder) applyRemotePlayback(p PlaybackState) {
	var err error
	if p == Playing {
		err = r.sink.Play()
	} else {
		err = r.sink.Pause()
	}
	if err != nil {
		status.Reportf(r.rep, true, "apply playback: %v", err)
		return
	}

	r.mu.Lock()
	r.playback = p
	r.mu.Unlock()
}

func (r *Responder) current(sess *session.Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess == sess
}

func (r *Responder) teardown() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.pending = nil
	r.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
}

// TogglePlayback flips local playback and sends exactly one control signal
// back to the opener so the two sides stay mirrored.
func (r *Responder) TogglePlayback() error {
	r.mu.Lock()
	next := Playing
	if r.playback == Playing {
		next = Paused
	}
	r.mu.Unlock()

	var err error
	if next == Playing {
		err = r.sink.Play()
	} else {
		err = r.sink.Pause()
	}
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.playback = next
	r.mu.Unlock()

	sig := msgchan.SignalPlay
	if next == Paused {
		sig = msgchan.SignalPause
	}
	return r.ch.Send(msgchan.NewControl(sig))
}

// CloseSession is the programmatic equivalent of a final unload.
func (r *Responder) CloseSession() error {
	r.Unload(false)
	return nil
}

// SessionOpen reports whether a negotiated session exists.
func (r *Responder) SessionOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// Playback returns the mirrored playback state.
func (r *Responder) Playback() PlaybackState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playback
}
