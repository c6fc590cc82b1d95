package msgchan

import "sync"

const loopbackQueueSize = 64

// LoopbackBus is the in-process raw channel: a broadcast bus connecting the
// contexts of a single process. Delivery is asynchronous with per-sender FIFO
// ordering; a full receiver queue drops the message, which the channel
// contract allows.
type LoopbackBus struct {
	mu  sync.Mutex
	eps map[string]*loopbackEndpoint
}

// NewLoopbackBus creates an empty bus.
func NewLoopbackBus() *LoopbackBus {
	return &LoopbackBus{eps: make(map[string]*loopbackEndpoint)}
}

// Join attaches a new endpoint under the given identity.
func (b *LoopbackBus) Join(id string) Endpoint {
	ep := &loopbackEndpoint{
		bus:   b,
		id:    id,
		inbox: make(chan loopbackMsg, loopbackQueueSize),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.eps[id] = ep
	b.mu.Unlock()

	go ep.pump()
	return ep
}

type loopbackMsg struct {
	from string
	data []byte
}

type loopbackEndpoint struct {
	bus *LoopbackBus
	id  string

	inbox chan loopbackMsg
	done  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	handler func(from string, data []byte)
}

// pump is the endpoint's single delivery goroutine; it preserves arrival
// order per sender.
func (e *loopbackEndpoint) pump() {
	for {
		select {
		case m := <-e.inbox:
			e.mu.Lock()
			fn := e.handler
			e.mu.Unlock()
			if fn != nil {
				fn(m.from, m.data)
			}
		case <-e.done:
			return
		}
	}
}

func (e *loopbackEndpoint) OnMessage(fn func(from string, data []byte)) {
	e.mu.Lock()
	e.handler = fn
	e.mu.Unlock()
}

func (e *loopbackEndpoint) Send(data []byte) error {
	select {
	case <-e.done:
		return ErrChannelUnreachable
	default:
	}

	e.bus.mu.Lock()
	targets := make([]*loopbackEndpoint, 0, len(e.bus.eps))
	for _, t := range e.bus.eps {
		if t != e {
			targets = append(targets, t)
		}
	}
	e.bus.mu.Unlock()

	msg := loopbackMsg{from: e.id, data: append([]byte(nil), data...)}
	for _, t := range targets {
		select {
		case t.inbox <- msg:
		default:
			// Receiver overwhelmed, drop; the channel guarantees nothing.
		}
	}
	return nil
}

func (e *loopbackEndpoint) Close() error {
	e.once.Do(func() {
		close(e.done)
		e.bus.mu.Lock()
		delete(e.bus.eps, e.id)
		e.bus.mu.Unlock()
	})
	return nil
}
