// Package window abstracts the secondary browsing context at its interface
// boundary: the core opens, focuses, probes, and closes it but never reaches
// inside. Implementations live with the host platform (or the CLI demo).
package window

// Handle is an open secondary context.
type Handle interface {
	// ID is the context's message-channel identity; the sender filter pins it.
	ID() string

	// Focus surfaces the context when the host platform can.
	Focus()

	// Closed reports whether the context is gone. It must be cheap; the
	// initiator polls it to catch closures whose signal was lost.
	Closed() bool

	// Close asks the context to shut down.
	Close() error
}

// Opener opens secondary contexts.
type Opener interface {
	Open(url string) (Handle, error)
}
