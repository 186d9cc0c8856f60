package handler

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeOpener hands back one end of a net.Pipe every time it is
// called, keeping the other end so the test can play the remote
// side of the substream.
func pipeOpener(t *testing.T) (Opener, func() net.Conn) {
	t.Helper()
	ends := make(chan net.Conn, 16)
	opener := func(ctx context.Context) (Substream, error) {
		local, remote := net.Pipe()
		ends <- remote
		return local, nil
	}
	next := func() net.Conn {
		select {
		case c := <-ends:
			return c
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for opened substream")
			return nil
		}
	}
	return opener, next
}

func recvHandlerEvent(t *testing.T, h *Handler) Event {
	t.Helper()
	select {
	case e := <-h.Out():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler event")
		return nil
	}
}

func TestInjectSendChallengeWritesFrame(t *testing.T) {
	open, next := pipeOpener(t)
	h := New(open, time.Second)
	t.Cleanup(h.Close)

	var commitment [32]byte
	commitment[0] = 7
	h.Inject(SendChallenge{Commitment: commitment})

	remote := next()
	defer remote.Close()

	// Read the frame back with a second Handler acting purely as a
	// decoder, by feeding the remote conn to HandleInbound.
	decoder := New(open, time.Second)
	t.Cleanup(decoder.Close)
	go decoder.HandleInbound(remote)

	ev := recvHandlerEvent(t, decoder)
	got, ok := ev.(ReceivedChallenge)
	require.True(t, ok)
	assert.Equal(t, commitment, got.Commitment)
}

func TestInjectOpenFailureReportsError(t *testing.T) {
	wantErr := errors.New("dial refused")
	open := func(ctx context.Context) (Substream, error) {
		return nil, wantErr
	}
	h := New(open, time.Second)
	t.Cleanup(h.Close)

	h.Inject(SendChallengeCancel{})

	ev := recvHandlerEvent(t, h)
	errEv, ok := ev.(Error)
	require.True(t, ok)
	assert.ErrorIs(t, errEv.Err, wantErr)
}

func TestKeepAliveReflectsInFlightAndPoison(t *testing.T) {
	open, next := pipeOpener(t)
	h := New(open, 20*time.Millisecond)
	t.Cleanup(h.Close)

	assert.Equal(t, KeepAliveUntil, h.KeepAlive().Kind)

	h.Inject(SendChallengeCancel{})
	assert.Equal(t, KeepAliveYes, h.KeepAlive().Kind)

	remote := next()
	remote.Close() // let the write fail/close out so inFlight drains

	require.Eventually(t, func() bool {
		return h.KeepAlive().Kind != KeepAliveYes
	}, time.Second, 5*time.Millisecond)

	h.Inject(Poison{})
	assert.Equal(t, KeepAliveNo, h.KeepAlive().Kind)
}

func TestHandleInboundDropsSemanticallyEmptyFrame(t *testing.T) {
	open, _ := pipeOpener(t)
	h := New(open, time.Second)
	t.Cleanup(h.Close)

	local, remote := net.Pipe()
	go func() {
		// An empty frame: zero-length body.
		remote.Write([]byte{0, 0})
		remote.Close()
	}()

	h.HandleInbound(local)

	select {
	case ev := <-h.Out():
		t.Fatalf("expected no event, got %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}
