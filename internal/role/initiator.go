package role

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/popcast/popcast/internal/media"
	"github.com/popcast/popcast/internal/msgchan"
	"github.com/popcast/popcast/internal/session"
	"github.com/popcast/popcast/internal/status"
	"github.com/popcast/popcast/internal/window"
)

// Initiator is the primary context's controller. It opens the secondary
// context, waits for its ready signal, captures the locally playing video,
// and drives the offer side of the handshake.
type Initiator struct {
	ch     *msgchan.Adapter
	opener window.Opener
	capt   media.Capturer
	player media.Player
	rep    status.Reporter
	cfg    Config

	mu           sync.Mutex
	win          window.Handle
	sess         *session.Session
	playback     PlaybackState
	fallbackSent bool
	pollCancel   context.CancelFunc
	graceTimer   *time.Timer
}

var _ Controller = (*Initiator)(nil)

// NewInitiator wires the controller and arms the channel listener. Inbound
// traffic is ignored until BeginSession pins the secondary context's identity.
func NewInitiator(ch *msgchan.Adapter, opener window.Opener, capt media.Capturer, player media.Player, rep status.Reporter, cfg Config) *Initiator {
	c := &Initiator{
		ch:       ch,
		opener:   opener,
		capt:     capt,
		player:   player,
		rep:      rep,
		cfg:      cfg.withDefaults(),
		playback: Playing,
	}
	ch.OnReceive(c.handleEnvelope)
	return c
}

// BeginSession opens the secondary context and waits for its ready signal.
// If a live context already exists it is only surfaced. Nothing is sent
// before the remote ready arrives; that signal is the ordering anchor for
// the whole handshake.
func (c *Initiator) BeginSession() error {
	c.mu.Lock()
	if c.win != nil && !c.win.Closed() {
		win := c.win
		c.mu.Unlock()
		win.Focus()
		return nil
	}
	c.mu.Unlock()

	win, err := c.opener.Open(c.cfg.SecondaryURL)
	if err != nil {
		status.Reportf(c.rep, true, "open secondary context: %v", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.win = win
	c.fallbackSent = false
	c.pollCancel = cancel
	c.mu.Unlock()

	c.ch.SetPeer(win.ID())
	go c.pollLiveness(ctx, win)

	status.Reportf(c.rep, false, "secondary context opened, waiting for ready")
	return nil
}

// pollLiveness catches the secondary context disappearing without its closed
// signal ever arriving; abrupt closure loses the normal notification.
func (c *Initiator) pollLiveness(ctx context.Context, win window.Handle) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if win.Closed() {
				status.Reportf(c.rep, false, "secondary context disappeared")
				c.handleRemoteClosed(win)
				return
			}
		}
	}
}

func (c *Initiator) handleEnvelope(env msgchan.Envelope) {
	guard(c.rep, func() {
		switch env.Kind {
		case msgchan.KindControl:
			c.handleControl(env.Control)
		case msgchan.KindAnswer:
			c.handleAnswer(env.Desc)
		case msgchan.KindCandidate:
			c.handleCandidate(env.Candidate)
			// Offers and application messages are not part of the
			// initiator's half of the protocol.
		}
	})
}

func (c *Initiator) handleControl(sig msgchan.Signal) {
	switch sig {
	case msgchan.SignalReady, msgchan.SignalReloaded:
		// A reloaded responder re-establishes exactly like a fresh one.
		c.startHandshake()
	case msgchan.SignalReloading:
		// Informational only. The context comes back and signals reloaded;
		// tearing down here would be premature.
		status.Reportf(c.rep, false, "secondary context reloading")
	case msgchan.SignalClosed:
		c.mu.Lock()
		win := c.win
		c.mu.Unlock()
		c.handleRemoteClosed(win)
	case msgchan.SignalPlay:
		c.applyRemotePlayback(Playing)
	case msgchan.SignalPause:
		c.applyRemotePlayback(Paused)
	}
}

// startHandshake captures the local stream and sends the offer. A session
// left over from an earlier ready signal is replaced, never reused.
func (c *Initiator) startHandshake() {
	c.mu.Lock()
	orphaned := c.win == nil
	c.mu.Unlock()
	if orphaned {
		// Ready arrived after closeSession, nothing to do.
		return
	}

	stream, err := c.capt.Capture()
	if err != nil {
		status.Reportf(c.rep, true, "capture failed: %v", err)
		return
	}
	if len(stream.Tracks()) == 0 {
		stream.Stop()
		status.Reportf(c.rep, true, "capture failed: %v", media.ErrNoTracks)
		return
	}

	sess, err := session.New(c.rep, c.cfg.STUNServers)
	if err != nil {
		stream.Stop()
		status.Reportf(c.rep, true, "create peer session: %v", err)
		return
	}

	c.mu.Lock()
	prev := c.sess
	c.sess = sess
	c.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}

	sess.OnLocalCandidate(func(init *webrtc.ICECandidateInit) {
		if !c.current(sess) {
			return
		}
		_ = c.ch.Send(msgchan.NewCandidate(init)) // trickle is best-effort
	})
	sess.OnStateChange(func(st session.State) {
		c.handleSessionState(sess, st)
	})

	offer, err := sess.CreateLocalOffer(stream)
	if err != nil {
		status.Reportf(c.rep, true, "%v", err)
		c.teardownSession(sess)
		return
	}
	if err := c.ch.Send(msgchan.NewOffer(offer)); err != nil {
		status.Reportf(c.rep, true, "send offer: %v", err)
		c.teardownSession(sess)
		return
	}

	c.armGrace(sess)
	status.Reportf(c.rep, false, "offer sent")
}

// current reports whether sess is still the active session. Callbacks that
// outlive their session consult it and become no-ops.
func (c *Initiator) current(sess *session.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == sess
}

// armGrace starts (or restarts) the sustained-failure window for sess.
func (c *Initiator) armGrace(sess *session.Session) {
	c.mu.Lock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
	}
	c.graceTimer = time.AfterFunc(c.cfg.GraceWindow, func() {
		c.graceExpired(sess)
	})
	c.mu.Unlock()
}

func (c *Initiator) disarmGrace() {
	c.mu.Lock()
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()
}

func (c *Initiator) handleSessionState(sess *session.Session, st session.State) {
	if !c.current(sess) {
		return
	}
	switch st {
	case session.StateConnected:
		c.disarmGrace()
		status.Reportf(c.rep, false, "peer session connected")
	case session.StateDisconnected, session.StateFailed:
		// Not immediately terminal: the transport gets the grace window to
		// recover. No silent re-negotiation either way.
		c.armGrace(sess)
	}
}

// graceExpired fires when the grace window elapses without recovery. With a
// fallback URL configured, the responder gets exactly one direct-URL
// delivery instead of a blank window; either way the session is torn down
// and no further offer/answer traffic follows.
func (c *Initiator) graceExpired(sess *session.Session) {
	if !c.current(sess) {
		return
	}
	if sess.State() == session.StateConnected {
		return
	}

	c.mu.Lock()
	sendFallback := c.cfg.FallbackURL != "" && !c.fallbackSent
	if sendFallback {
		c.fallbackSent = true
	}
	c.mu.Unlock()

	status.Reportf(c.rep, true, "peer session did not recover within %s", c.cfg.GraceWindow)
	if sendFallback {
		_ = c.ch.Send(newFallbackEnvelope(c.cfg.FallbackURL))
		status.Reportf(c.rep, false, "fallback URL sent to secondary context")
	}
	c.teardownSession(sess)
}

func (c *Initiator) teardownSession(sess *session.Session) {
	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()
	_ = sess.Close()
}

func (c *Initiator) handleAnswer(desc msgchan.Description) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.ApplyRemoteAnswer(desc); err != nil {
		status.Reportf(c.rep, true, "apply answer: %v", err)
	}
}

func (c *Initiator) handleCandidate(cand *webrtc.ICECandidateInit) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.AddRemoteCandidate(cand); err != nil {
		status.Reportf(c.rep, true, "apply candidate: %v", err)
	}
}

// applyRemotePlayback mirrors a playback change the remote side owns.
// No echo: the remote already applied it.
func (c *Initiator) applyRemotePlayback(p PlaybackState) {
	var err error
	if p == Playing {
		err = c.player.Play()
	} else {
		err = c.player.Pause()
	}
	if err != nil {
		status.Reportf(c.rep, true, "apply playback: %v", err)
		return
	}

	c.mu.Lock()
	c.playback = p
	c.mu.Unlock()
}

// TogglePlayback flips local playback and sends exactly one control signal.
func (c *Initiator) TogglePlayback() error {
	c.mu.Lock()
	next := Playing
	if c.playback == Playing {
		next = Paused
	}
	c.mu.Unlock()

	var err error
	if next == Playing {
		err = c.player.Play()
	} else {
		err = c.player.Pause()
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.playback = next
	c.mu.Unlock()

	sig := msgchan.SignalPlay
	if next == Paused {
		sig = msgchan.SignalPause
	}
	return c.ch.Send(msgchan.NewControl(sig))
}

// CloseSession tears everything down so a later BeginSession starts clean.
func (c *Initiator) CloseSession() error {
	c.mu.Lock()
	win := c.win
	sess := c.sess
	cancel := c.pollCancel
	c.win, c.sess, c.pollCancel = nil, nil, nil
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var errs []error
	if win != nil {
		_ = c.ch.Send(msgchan.NewControl(msgchan.SignalClosed)) // best-effort
		errs = append(errs, win.Close())
	}
	if sess != nil {
		errs = append(errs, sess.Close())
	}

	// The former counterpart may still be running; unpin it so its traffic
	// no longer steers the local player.
	c.ch.SetPeer("")
	return errors.Join(errs...)
}

// handleRemoteClosed runs when the secondary context signalled closed, or
// the liveness probe found it gone. win guards against a stale probe firing
// after the window was already replaced.
func (c *Initiator) handleRemoteClosed(win window.Handle) {
	c.mu.Lock()
	if win != nil && c.win != nil && c.win != win {
		c.mu.Unlock()
		return
	}
	sess := c.sess
	cancel := c.pollCancel
	c.win, c.sess, c.pollCancel = nil, nil, nil
	if c.graceTimer != nil {
		c.graceTimer.Stop()
		c.graceTimer = nil
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess != nil {
		_ = sess.Close()
	}
	c.ch.SetPeer("")
	status.Reportf(c.rep, false, "secondary context closed")
}

// SessionOpen reports whether a live secondary context exists.
func (c *Initiator) SessionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.win != nil && !c.win.Closed()
}

// Playback returns the mirrored playback state.
func (c *Initiator) Playback() PlaybackState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playback
}
