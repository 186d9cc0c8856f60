package handler

import (
	"context"
	"io"
	"time"
)

// Substream is the minimal interface a Handler needs from a
// negotiated ipchess/1.0.0 substream. go-libp2p's network.Stream
// satisfies it directly; so does a net.Conn from net.Pipe, which is
// what handler_test.go drives against instead of a live swarm.
type Substream interface {
	io.Reader
	io.Writer
	io.Closer
	SetDeadline(t time.Time) error
}

// Opener opens a new outbound substream to the connection a Handler
// owns. In production this wraps host.NewStream against a fixed
// peer.ID and protocol.ID; in tests it hands back one end of a
// net.Pipe.
type Opener func(ctx context.Context) (Substream, error)
