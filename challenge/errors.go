package challenge

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrNoOutboundChallenge is returned by Behaviour.Cancel when this node
// has no outstanding outbound challenge to the peer.
var ErrNoOutboundChallenge = errors.New("challenge: no outstanding outbound challenge to this peer")

// ErrNoInboundChallenge is returned by Behaviour.Accept when the peer's
// inbound slot is not in the Received state, and by Behaviour.Decline
// when this node has no inbound slot for the peer.
var ErrNoInboundChallenge = errors.New("challenge: no inbound challenge from this peer")

// ErrUnexpectedReveal identifies a reveal-before-accept protocol
// violation: wrapped by ChallengePoisonedError rather than emitted on
// its own, since that case always poisons the handler.
var ErrUnexpectedReveal = errors.New("challenge: reveal received before challenge was accepted")

// CommitmentMismatchError is returned when a revealed preimage does
// not hash to the commitment stored for that slot — the one
// adversarial case the protocol itself must detect (spec §7, modeled
// on the original IpchessError::CommitmentPreimageMismatch).
type CommitmentMismatchError struct {
	Commitment [32]byte
	Preimage   [32]byte
}

func (e *CommitmentMismatchError) Error() string {
	return fmt.Sprintf("challenge: preimage does not hash to the stored commitment %x", e.Commitment)
}

// ChallengePoisonedError is the error reported alongside a poisoned
// handler (spec §7, §8 boundary behaviours, S4/S5): either a tampered
// reveal (Reason is a *CommitmentMismatchError) or a reveal that
// arrived before this side accepted (Reason is ErrUnexpectedReveal).
// Either way the connection the triggering frame arrived on is closed.
type ChallengePoisonedError struct {
	Peer   peer.ID
	Reason error
}

func (e *ChallengePoisonedError) Error() string {
	return fmt.Sprintf("challenge: peer %s poisoned the handler: %v", e.Peer, e.Reason)
}

func (e *ChallengePoisonedError) Unwrap() error {
	return e.Reason
}
