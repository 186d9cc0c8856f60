package challenge

import (
	"crypto/sha256"
	"io"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequentialReader hands out deterministic, distinct 32-byte values so
// assertions can tell a preimage from a random value without either
// being the zero value.
type sequentialReader struct{ n byte }

func (r *sequentialReader) Read(p []byte) (int, error) {
	r.n++
	for i := range p {
		p[i] = r.n
	}
	return len(p), nil
}

func newTestBehaviour(t *testing.T) *Behaviour {
	t.Helper()
	cfg := Config{
		AcceptTimeout: 50 * time.Millisecond,
		RevealTimeout: 50 * time.Millisecond,
		RandomSource:  &sequentialReader{},
		TickInterval:  5 * time.Millisecond,
	}
	b, err := NewBehaviour(cfg)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func recvAction(t *testing.T, b *Behaviour) Action {
	t.Helper()
	select {
	case a := <-b.Actions():
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for action")
		return nil
	}
}

func recvEvent(t *testing.T, b *Behaviour) Event {
	t.Helper()
	select {
	case e := <-b.Events():
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, b *Behaviour) {
	t.Helper()
	select {
	case e := <-b.Events():
		t.Fatalf("unexpected event: %#v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

const peerA = peer.ID("peer-a")

// S1: a full challenge exchange from first contact to agreed seed.
func TestScenarioFullExchange(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	require.NoError(t, b.Challenge(peerA))
	a := recvAction(t, b)
	notify, ok := a.(NotifyHandler)
	require.True(t, ok)
	challengeCmd, ok := notify.Command.(CommandChallenge)
	require.True(t, ok)

	// The peer accepts: deliver a ChallengeAccept inbound frame.
	var random [32]byte
	random[0] = 0xAA
	b.Inbound(peerA, conn, FrameChallengeAccept{Random: random})

	a = recvAction(t, b)
	notify, ok = a.(NotifyHandler)
	require.True(t, ok)
	reveal, ok := notify.Command.(CommandChallengeReveal)
	require.True(t, ok)

	ev := recvEvent(t, b)
	accepted, ok := ev.(EventChallengeAccepted)
	require.True(t, ok)
	assert.Equal(t, peerA, accepted.Peer)
	assert.Equal(t, reveal.Preimage, accepted.Seed.Preimage)
	assert.Equal(t, random, accepted.Seed.Random)

	// Sanity: the revealed preimage is the one committed to.
	assert.NotEqual(t, [32]byte{}, challengeCmd.Commitment)
	assert.Equal(t, sha256.Sum256(reveal.Preimage[:]), challengeCmd.Commitment)
}

// S4: an inbound challenge, accepted locally, then answered by a
// reveal that does not match the stored commitment.
func TestScenarioInboundAcceptThenReveal(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	var commitment [32]byte
	commitment[0] = 1
	b.Inbound(peerA, conn, FrameChallenge{Commitment: commitment})

	ev := recvEvent(t, b)
	pc, ok := ev.(EventPeerChallenge)
	require.True(t, ok)
	assert.Equal(t, peerA, pc.Peer)

	require.NoError(t, b.Accept(peerA))
	a := recvAction(t, b)
	notify := a.(NotifyHandler)
	assert.IsType(t, CommandChallengeAccept{}, notify.Command)

	// Reveal a preimage that does not hash to the stored commitment:
	// expect a protocol error and a poisoned handler, not a completed
	// exchange (spec §8, S4).
	var wrongPreimage [32]byte
	wrongPreimage[0] = 99
	b.Inbound(peerA, conn, FrameChallengeReveal{Preimage: wrongPreimage})

	poisonAction := recvAction(t, b)
	poisonNotify, ok := poisonAction.(NotifyHandler)
	require.True(t, ok)
	assert.Equal(t, &conn, poisonNotify.Conn)
	assert.IsType(t, CommandPoison{}, poisonNotify.Command)

	ev = recvEvent(t, b)
	errEv, ok := ev.(EventError)
	require.True(t, ok)
	var poisoned *ChallengePoisonedError
	require.ErrorAs(t, errEv.Err, &poisoned)
	var mismatch *CommitmentMismatchError
	assert.ErrorAs(t, poisoned.Reason, &mismatch)
}

// S5: a reveal that arrives before this side has accepted the
// challenge poisons the handler and reports ChallengePoisoned,
// instead of being treated as a stale/unrelated frame.
func TestScenarioRevealBeforeAcceptPoisonsHandler(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	var commitment [32]byte
	commitment[0] = 1
	b.Inbound(peerA, conn, FrameChallenge{Commitment: commitment})
	recvEvent(t, b) // PeerChallenge

	var preimage [32]byte
	preimage[0] = 2
	b.Inbound(peerA, conn, FrameChallengeReveal{Preimage: preimage})

	poisonAction := recvAction(t, b)
	poisonNotify, ok := poisonAction.(NotifyHandler)
	require.True(t, ok)
	assert.Equal(t, &conn, poisonNotify.Conn)
	assert.IsType(t, CommandPoison{}, poisonNotify.Command)

	ev := recvEvent(t, b)
	errEv, ok := ev.(EventError)
	require.True(t, ok)
	var poisoned *ChallengePoisonedError
	require.ErrorAs(t, errEv.Err, &poisoned)
	assert.ErrorIs(t, poisoned.Reason, ErrUnexpectedReveal)

	// The slot was cleared: declining now finds nothing to decline.
	assert.ErrorIs(t, b.Decline(peerA), ErrNoInboundChallenge)
}

// A reveal frame with no inbound slot at all (never challenged, or
// already resolved) is ignored silently, not reported as an error.
func TestScenarioRevealWithNoInboundSlotIsIgnored(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	var preimage [32]byte
	preimage[0] = 7
	b.Inbound(peerA, conn, FrameChallengeReveal{Preimage: preimage})

	assertNoEvent(t, b)
}

// Calling Challenge twice with no intervening state change produces
// exactly one handler command (spec §8's idempotence law): the
// second call is a no-op against the already-occupied outbound slot.
func TestChallengeIsIdempotentWhileOutboundSlotOccupied(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	require.NoError(t, b.Challenge(peerA))
	first := recvAction(t, b)
	firstCmd := first.(NotifyHandler).Command.(CommandChallenge)

	require.NoError(t, b.Challenge(peerA))

	// No second command arrives, and a subsequent cancel still tears
	// down the first (and only) commitment.
	select {
	case a := <-b.Actions():
		t.Fatalf("unexpected second action: %#v", a)
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, b.Cancel(peerA))
	cancelAction := recvAction(t, b)
	assert.IsType(t, CommandChallengeCancel{}, cancelAction.(NotifyHandler).Command)
	assert.NotEqual(t, [32]byte{}, firstCmd.Commitment)
}

// S3: cancel a local outbound challenge before it is answered.
func TestScenarioCancelOutbound(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	require.NoError(t, b.Challenge(peerA))
	recvAction(t, b) // the Challenge NotifyHandler

	require.NoError(t, b.Cancel(peerA))
	a := recvAction(t, b)
	notify := a.(NotifyHandler)
	assert.IsType(t, CommandChallengeCancel{}, notify.Command)

	// Cancelling twice finds no slot.
	assert.ErrorIs(t, b.Cancel(peerA), ErrNoOutboundChallenge)
}

// S2: decline an inbound challenge.
func TestScenarioDeclineInbound(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	var commitment [32]byte
	b.Inbound(peerA, conn, FrameChallenge{Commitment: commitment})
	recvEvent(t, b) // PeerChallenge

	require.NoError(t, b.Decline(peerA))
	a := recvAction(t, b)
	notify := a.(NotifyHandler)
	assert.IsType(t, CommandChallengeDecline{}, notify.Command)

	assert.ErrorIs(t, b.Decline(peerA), ErrNoInboundChallenge)
}

// An outbound challenge nobody answers in time clears itself and
// reports a timeout, not silence forever.
func TestScenarioOutboundAcceptTimeout(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	require.NoError(t, b.Challenge(peerA))
	recvAction(t, b)

	ev := recvEvent(t, b)
	to, ok := ev.(EventTimeout)
	require.True(t, ok)
	assert.Equal(t, DirectionOutbound, to.Direction)

	// The slot is gone: a late accept is now stale/unsolicited and is
	// ignored (spec §4.3.2), not reported as a protocol error.
	var random [32]byte
	b.Inbound(peerA, conn, FrameChallengeAccept{Random: random})
	assertNoEvent(t, b)
}

// An inbound challenge accepted locally but never revealed times
// out from the PendingReveal state specifically, distinct from the
// outbound accept timeout.
func TestScenarioInboundRevealTimeout(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	var commitment [32]byte
	b.Inbound(peerA, conn, FrameChallenge{Commitment: commitment})
	recvEvent(t, b)

	require.NoError(t, b.Accept(peerA))
	recvAction(t, b)

	ev := recvEvent(t, b)
	to, ok := ev.(EventTimeout)
	require.True(t, ok)
	assert.Equal(t, DirectionInbound, to.Direction)
}

// A fresh Challenge replaces any prior inbound slot, last-writer-wins,
// without requiring an explicit cancel first.
func TestInboundChallengeOverwritesExistingSlot(t *testing.T) {
	b := newTestBehaviour(t)
	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	var firstPreimage, secondPreimage [32]byte
	firstPreimage[0] = 1
	secondPreimage[0] = 2
	first := sha256.Sum256(firstPreimage[:])
	second := sha256.Sum256(secondPreimage[:])

	b.Inbound(peerA, conn, FrameChallenge{Commitment: first})
	recvEvent(t, b)
	b.Inbound(peerA, conn, FrameChallenge{Commitment: second})
	recvEvent(t, b)

	// Accepting now must bind to the second commitment: reveal the
	// first preimage and expect a mismatch, since it only hashes to
	// the discarded commitment.
	require.NoError(t, b.Accept(peerA))
	recvAction(t, b)

	b.Inbound(peerA, conn, FrameChallengeReveal{Preimage: firstPreimage})
	recvAction(t, b) // the poison NotifyHandler
	ev := recvEvent(t, b)
	errEv := ev.(EventError)
	var poisoned *ChallengePoisonedError
	require.ErrorAs(t, errEv.Err, &poisoned)
	var mismatch *CommitmentMismatchError
	assert.ErrorAs(t, poisoned.Reason, &mismatch)
}

// S6: a command issued while no connection is open is queued rather
// than dropped, a dial is requested, and the queued command is
// replayed exactly once, addressed to the new connection, as soon as
// Connected fires.
func TestChallengeRequestsDialWhenNoConnectionOpen(t *testing.T) {
	b := newTestBehaviour(t)

	require.NoError(t, b.Challenge(peerA))

	dial := recvAction(t, b)
	_, isDial := dial.(DialPeer)
	require.True(t, isDial)

	// Nothing is delivered until a connection actually appears.
	select {
	case a := <-b.Actions():
		t.Fatalf("unexpected action before Connected: %#v", a)
	case <-time.After(20 * time.Millisecond):
	}

	conn := ConnID("conn-1")
	b.Connected(peerA, conn)

	replayed := recvAction(t, b)
	notify, ok := replayed.(NotifyHandler)
	require.True(t, ok)
	require.NotNil(t, notify.Conn)
	assert.Equal(t, conn, *notify.Conn)
	assert.IsType(t, CommandChallenge{}, notify.Command)
}

func TestClosedBehaviourStopsAcceptingWork(t *testing.T) {
	cfg := Config{
		AcceptTimeout: time.Second,
		RevealTimeout: time.Second,
		RandomSource:  &sequentialReader{},
		TickInterval:  time.Millisecond,
	}
	b, err := NewBehaviour(cfg)
	require.NoError(t, err)
	b.Close()

	// do() must return instead of hanging once the loop has exited.
	done := make(chan struct{})
	go func() {
		_ = b.Challenge(peerA)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Challenge did not return after Close")
	}
}

var _ io.Reader = (*sequentialReader)(nil)
