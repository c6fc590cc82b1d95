package msgchan

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestLoopbackDeliversPerSenderFIFO(t *testing.T) {
	bus := NewLoopbackBus()
	a := bus.Join("a")
	b := bus.Join("b")

	var mu sync.Mutex
	var got []string
	b.OnMessage(func(from string, data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})

	const n = 50
	for i := 0; i < n; i++ {
		if err := a.Send([]byte(fmt.Sprintf("m%02d", i))); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, m := range got {
		if want := fmt.Sprintf("m%02d", i); m != want {
			t.Fatalf("out of order at %d: got %s, want %s", i, m, want)
		}
	}
}

func TestSenderNeverReceivesOwnBroadcast(t *testing.T) {
	bus := NewLoopbackBus()
	a := bus.Join("a")
	b := bus.Join("b")

	received := make(chan string, 4)
	a.OnMessage(func(from string, _ []byte) { received <- from })
	b.OnMessage(func(string, []byte) {})

	if err := a.Send([]byte(`"ready"`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := b.Send([]byte(`"ready"`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case from := <-received:
		if from != "b" {
			t.Errorf("endpoint a heard from %q, want only b", from)
		}
	case <-time.After(time.Second):
		t.Fatal("no delivery")
	}
}

func TestSendAfterCloseIsUnreachable(t *testing.T) {
	bus := NewLoopbackBus()
	a := bus.Join("a")
	bus.Join("b")

	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Send([]byte(`"ready"`)); !errors.Is(err, ErrChannelUnreachable) {
		t.Errorf("Send after close: got %v, want ErrChannelUnreachable", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close must be a no-op, got %v", err)
	}
}

func TestAdapterFiltersBySenderIdentity(t *testing.T) {
	bus := NewLoopbackBus()
	primary := New(bus.Join("primary"))
	secondary := New(bus.Join("secondary"))
	stranger := New(bus.Join("stranger"))

	primary.SetPeer("secondary")

	received := make(chan Envelope, 8)
	primary.OnReceive(func(env Envelope) { received <- env })

	// The stranger shares the broadcast channel but is not the counterpart.
	if err := stranger.Send(NewControl(SignalClosed)); err != nil {
		t.Fatalf("stranger Send failed: %v", err)
	}
	if err := secondary.Send(NewControl(SignalReady)); err != nil {
		t.Fatalf("secondary Send failed: %v", err)
	}

	select {
	case env := <-received:
		if env.Control != SignalReady {
			t.Fatalf("expected only the counterpart's ready, got %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("counterpart message not delivered")
	}

	select {
	case env := <-received:
		t.Fatalf("stranger traffic leaked through the filter: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapterReplaysTrafficHeldUntilPin(t *testing.T) {
	bus := NewLoopbackBus()
	primary := New(bus.Join("primary"))
	secondary := New(bus.Join("secondary"))
	stranger := New(bus.Join("stranger"))

	received := make(chan Envelope, 8)
	primary.OnReceive(func(env Envelope) { received <- env })

	// Both frames land before the counterpart identity is known.
	if err := stranger.Send(NewControl(SignalClosed)); err != nil {
		t.Fatalf("stranger Send failed: %v", err)
	}
	if err := secondary.Send(NewControl(SignalReady)); err != nil {
		t.Fatalf("secondary Send failed: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		primary.mu.Lock()
		defer primary.mu.Unlock()
		return len(primary.backlog) == 2
	})

	primary.SetPeer("secondary")

	select {
	case env := <-received:
		if env.Control != SignalReady {
			t.Fatalf("expected the held ready, got %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("held frame not replayed on pin")
	}
	select {
	case env := <-received:
		t.Fatalf("stranger frame survived the replay filter: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAdapterUnpinSuspendsDispatch(t *testing.T) {
	bus := NewLoopbackBus()
	primary := New(bus.Join("primary"))
	secondary := New(bus.Join("secondary"))

	received := make(chan Envelope, 8)
	primary.OnReceive(func(env Envelope) { received <- env })
	primary.SetPeer("secondary")
	primary.SetPeer("")

	if err := secondary.Send(NewControl(SignalPause)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case env := <-received:
		t.Fatalf("unpinned adapter dispatched %+v", env)
	case <-time.After(200 * time.Millisecond):
	}

	// Re-pinning the same counterpart replays what it held.
	primary.SetPeer("secondary")
	select {
	case env := <-received:
		if env.Control != SignalPause {
			t.Fatalf("expected the held pause, got %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("held frame not replayed on re-pin")
	}
}

func TestAdapterIgnoresMalformedTraffic(t *testing.T) {
	bus := NewLoopbackBus()
	primary := New(bus.Join("primary"))
	raw := bus.Join("secondary")

	primary.SetPeer("secondary")
	received := make(chan Envelope, 8)
	primary.OnReceive(func(env Envelope) { received <- env })

	if err := raw.Send([]byte(`this is not json`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := raw.Send([]byte(`"pause"`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case env := <-received:
		if env.Kind != KindControl || env.Control != SignalPause {
			t.Fatalf("expected the pause control, got %+v", env)
		}
	case <-time.After(time.Second):
		t.Fatal("valid envelope not delivered")
	}
}
