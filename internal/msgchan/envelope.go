package msgchan

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Kind discriminates the envelope variants carried over the message channel.
type Kind int

const (
	KindOffer Kind = iota + 1
	KindAnswer
	KindCandidate
	KindControl
	KindApp // opaque application payload, passed through untouched
)

// Signal is a plain control string exchanged between the two contexts.
// Control signals travel as bare JSON strings, not objects.
type Signal string

const (
	SignalPlay      Signal = "play"
	SignalPause     Signal = "pause"
	SignalReady     Signal = "ready"
	SignalReloading Signal = "reloading"
	SignalReloaded  Signal = "reloaded"
	SignalClosed    Signal = "closed"
)

// Description is a message-channel-safe session description. Only the type
// and SDP text ever cross the channel, never a live description object.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Envelope is the tagged union sent over the message channel. Only the
// fields selected by Kind are meaningful.
type Envelope struct {
	Kind      Kind
	Desc      Description              // KindOffer, KindAnswer
	Candidate *webrtc.ICECandidateInit // KindCandidate; nil is the end-of-candidates marker
	Control   Signal                   // KindControl
	Raw       json.RawMessage          // KindApp
}

func NewOffer(desc Description) Envelope  { return Envelope{Kind: KindOffer, Desc: desc} }
func NewAnswer(desc Description) Envelope { return Envelope{Kind: KindAnswer, Desc: desc} }
func NewControl(sig Signal) Envelope      { return Envelope{Kind: KindControl, Control: sig} }

func NewCandidate(candidate *webrtc.ICECandidateInit) Envelope {
	return Envelope{Kind: KindCandidate, Candidate: candidate}
}

// Wire discriminator values for the object-shaped envelopes.
const (
	wireOffer     = "webrtc-offer"
	wireAnswer    = "webrtc-answer"
	wireCandidate = "ice-candidate"
)

type wireOfferMsg struct {
	Type  string      `json:"type"`
	Offer Description `json:"offer"`
}

type wireAnswerMsg struct {
	Type   string      `json:"type"`
	Answer Description `json:"answer"`
}

type wireCandidateMsg struct {
	Type      string                   `json:"type"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

// Encode serializes an envelope to its wire form.
func Encode(env Envelope) ([]byte, error) {
	switch env.Kind {
	case KindOffer:
		return json.Marshal(wireOfferMsg{Type: wireOffer, Offer: env.Desc})
	case KindAnswer:
		return json.Marshal(wireAnswerMsg{Type: wireAnswer, Answer: env.Desc})
	case KindCandidate:
		return json.Marshal(wireCandidateMsg{Type: wireCandidate, Candidate: env.Candidate})
	case KindControl:
		return json.Marshal(string(env.Control))
	case KindApp:
		if !json.Valid(env.Raw) {
			return nil, fmt.Errorf("application envelope is not valid JSON")
		}
		return append([]byte(nil), env.Raw...), nil
	default:
		return nil, fmt.Errorf("unknown envelope kind %d", env.Kind)
	}
}

// Decode parses a wire message into an envelope. Bare strings must be known
// control signals; objects with an unrecognized type discriminator are
// application messages and pass through untouched.
func Decode(data []byte) (Envelope, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch sig := Signal(s); sig {
		case SignalPlay, SignalPause, SignalReady, SignalReloading, SignalReloaded, SignalClosed:
			return Envelope{Kind: KindControl, Control: sig}, nil
		}
		return Envelope{}, fmt.Errorf("unknown control signal %q", s)
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}

	switch head.Type {
	case wireOffer:
		var m wireOfferMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return Envelope{}, fmt.Errorf("malformed offer envelope: %w", err)
		}
		return Envelope{Kind: KindOffer, Desc: m.Offer}, nil
	case wireAnswer:
		var m wireAnswerMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return Envelope{}, fmt.Errorf("malformed answer envelope: %w", err)
		}
		return Envelope{Kind: KindAnswer, Desc: m.Answer}, nil
	case wireCandidate:
		var m wireCandidateMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return Envelope{}, fmt.Errorf("malformed candidate envelope: %w", err)
		}
		return Envelope{Kind: KindCandidate, Candidate: m.Candidate}, nil
	default:
		return Envelope{Kind: KindApp, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}
