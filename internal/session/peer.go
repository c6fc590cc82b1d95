package session

import (
	"github.com/pion/webrtc/v4"
)

// Default STUN servers for ICE candidate gathering. No TURN: the two
// contexts sit on the same machine or network in the intended deployment.
var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// newPeerConnection creates a PeerConnection configured with the given STUN
// servers. A nil slice selects the defaults; an empty non-nil slice disables
// STUN entirely (host candidates only).
func newPeerConnection(stun []string) (*webrtc.PeerConnection, error) {
	if stun == nil {
		stun = defaultSTUNServers
	}

	config := webrtc.Configuration{}
	if len(stun) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stun}}
	}
	return webrtc.NewPeerConnection(config)
}
