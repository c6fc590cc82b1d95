// Package role implements the two connection-lifecycle controllers, one per
// browsing context: the Initiator owns the locally playing video and pushes
// it to the secondary context; the Responder receives and plays it. All
// cross-context effects flow through message-channel envelopes; neither
// controller ever touches the other side's state.
package role

import (
	"encoding/json"
	"time"

	"github.com/popcast/popcast/internal/msgchan"
	"github.com/popcast/popcast/internal/status"
)

// Role identifies which side of the hand-off a controller drives. It is
// fixed for the controller's lifetime.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// PlaybackState mirrors the play/pause state shared by the two contexts.
// The source of truth is whichever side last issued a user toggle.
type PlaybackState int

const (
	Playing PlaybackState = iota
	Paused
)

func (p PlaybackState) String() string {
	if p == Paused {
		return "paused"
	}
	return "playing"
}

// Controller is the contract both role controllers satisfy; the UI layer
// drives sessions exclusively through it.
type Controller interface {
	TogglePlayback() error
	CloseSession() error
	SessionOpen() bool
	Playback() PlaybackState
}

// Config carries the tunables shared by both controllers.
type Config struct {
	SecondaryURL string        // initiator: what to open the secondary context on
	FallbackURL  string        // direct-URL degraded mode; empty disables it
	STUNServers  []string      // nil selects the built-in defaults
	GraceWindow  time.Duration // sustained-failure window before fallback
	PollInterval time.Duration // secondary-context liveness probe interval
}

const (
	defaultGraceWindow  = 5 * time.Second
	defaultPollInterval = time.Second
)

func (c Config) withDefaults() Config {
	if c.GraceWindow <= 0 {
		c.GraceWindow = defaultGraceWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// fallbackMessage is the degraded-mode application payload: the responder
// loads the media directly from URL instead of over the peer transport.
type fallbackMessage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

const fallbackType = "fallback-url"

func newFallbackEnvelope(url string) msgchan.Envelope {
	raw, _ := json.Marshal(fallbackMessage{Type: fallbackType, URL: url})
	return msgchan.Envelope{Kind: msgchan.KindApp, Raw: raw}
}

// guard runs an event handler, converting a panic into a status report. An
// escaped panic would stall the state machine with no observable symptom,
// which the protocol does not allow.
func guard(rep status.Reporter, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			status.Reportf(rep, true, "handler panic: %v", r)
		}
	}()
	fn()
}
