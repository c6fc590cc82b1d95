// Package msgchan carries typed envelopes between the two browsing contexts
// over an asynchronous, unordered, fire-and-forget broadcast channel. The
// only ordering guarantee is per-sender FIFO; loss is possible and is
// detected downstream by state machines that never progress, not here.
package msgchan

import (
	"errors"
	"fmt"
	"sync"
)

// ErrChannelUnreachable reports that the raw channel can no longer deliver
// to the counterpart context.
var ErrChannelUnreachable = errors.New("message channel unreachable")

// Endpoint is one context's attachment to the raw broadcast channel.
type Endpoint interface {
	// Send broadcasts data to every other endpoint on the channel.
	// Best-effort: no acknowledgement, no retry.
	Send(data []byte) error

	// OnMessage registers the handler for inbound raw messages. from
	// identifies the origin endpoint.
	OnMessage(fn func(from string, data []byte))

	// Close detaches the endpoint; subsequent Sends fail.
	Close() error
}

// Adapter filters and decodes raw channel traffic for one controller.
// Messages not originating from the pinned counterpart are dropped before
// dispatch; this filter is the full extent of the authentication model.
//
// A context learns its counterpart identity only after opening it, so
// traffic arriving while no peer is pinned is held and replayed through the
// filter once SetPeer runs. The backlog is bounded; overflow drops, which
// the channel contract allows.
type Adapter struct {
	ep Endpoint

	mu      sync.Mutex
	peer    string
	backlog []rawFrame
	handler func(Envelope)
}

type rawFrame struct {
	from string
	data []byte
}

const adapterBacklogSize = 16

// New attaches an adapter to an endpoint. Inbound traffic is held until a
// peer identity is pinned with SetPeer and a handler is armed with OnReceive.
func New(ep Endpoint) *Adapter {
	a := &Adapter{ep: ep}
	ep.OnMessage(a.dispatch)
	return a
}

// SetPeer pins the counterpart identity the adapter accepts traffic from.
// An empty id unpins, holding inbound traffic until the next pin. Held
// frames from anyone but the newly pinned counterpart are discarded on
// replay by the normal filter.
func (a *Adapter) SetPeer(id string) {
	a.mu.Lock()
	a.peer = id
	var held []rawFrame
	if id != "" {
		held = a.backlog
		a.backlog = nil
	}
	a.mu.Unlock()

	for _, f := range held {
		a.dispatch(f.from, f.data)
	}
}

// OnReceive arms the envelope handler. It is invoked sequentially in raw
// channel arrival order for every accepted message.
func (a *Adapter) OnReceive(fn func(Envelope)) {
	a.mu.Lock()
	a.handler = fn
	a.mu.Unlock()
}

func (a *Adapter) dispatch(from string, data []byte) {
	a.mu.Lock()
	if a.peer == "" {
		if len(a.backlog) < adapterBacklogSize {
			a.backlog = append(a.backlog, rawFrame{from: from, data: data})
		}
		a.mu.Unlock()
		return
	}
	peer, fn := a.peer, a.handler
	a.mu.Unlock()

	if fn == nil || from != peer {
		return
	}

	env, err := Decode(data)
	if err != nil {
		// Unknown or malformed traffic is ignored, not surfaced.
		return
	}
	fn(env)
}

// Send encodes and broadcasts env.
func (a *Adapter) Send(env Envelope) error {
	data, err := Encode(env)
	if err != nil {
		return err
	}
	if err := a.ep.Send(data); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelUnreachable, err)
	}
	return nil
}

// Close detaches the underlying endpoint.
func (a *Adapter) Close() error {
	return a.ep.Close()
}
