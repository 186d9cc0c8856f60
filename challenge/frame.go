package challenge

// InboundFrame is the sum type of decoded wire messages handed to a
// Behaviour by the connection handler that owns the substream they
// arrived on (spec §4.3.2, inbound frame transitions). It mirrors
// wire.Payload one-for-one but is a distinct type: the challenge
// package has no dependency on the wire package's framing, only on
// the five payload shapes it decodes to.
type InboundFrame interface {
	isInboundFrame()
}

// FrameChallenge carries a peer's commitment to a preimage.
type FrameChallenge struct {
	Commitment [32]byte
}

// FrameChallengeAccept carries a peer's random value, accepting an
// outstanding outbound challenge.
type FrameChallengeAccept struct {
	Random [32]byte
}

// FrameChallengeReveal carries a peer's preimage, completing an
// inbound challenge this side had accepted.
type FrameChallengeReveal struct {
	Preimage [32]byte
}

// FrameChallengeCancel withdraws a challenge the peer previously sent.
type FrameChallengeCancel struct{}

// FrameChallengeDecline declines a challenge this side previously sent.
type FrameChallengeDecline struct{}

func (FrameChallenge) isInboundFrame()        {}
func (FrameChallengeAccept) isInboundFrame()  {}
func (FrameChallengeReveal) isInboundFrame()  {}
func (FrameChallengeCancel) isInboundFrame()  {}
func (FrameChallengeDecline) isInboundFrame() {}
