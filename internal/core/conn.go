package core

import "errors"

// Frame is a raw JSON payload ready for the wire.
type Frame []byte

// ConnID is the opaque per-connection identifier assigned at transport
// connect time. It is unrelated to user identity.
type ConnID string

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts for a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// PublishResult reports delivery stats/backpressure to the relay's caller.
type PublishResult struct {
	SentTo  int
	Dropped []ConnID
}
