package challenge

import "time"

// ConnID identifies one open connection to a peer, as assigned by the
// overlay runtime (the node package maps this to a concrete libp2p
// network.Conn). It carries no meaning beyond equality comparison —
// used only to route a reply back to the connection a decision
// originated from (spec §4.3.4, duplicate-connection handling).
type ConnID string

// outboundSlot is the Outbound challenge of spec §3: the local
// preimage, plus the accept-timeout deadline it was created with.
type outboundSlot struct {
	preimage [32]byte
	deadline time.Time
}

// inboundSlot is the sum type of spec §3's inbound challenge: exactly
// one of Received or PendingReveal. Avoided as a nullable map keyed
// by a role string per spec §9's design note — a small closed
// interface instead.
type inboundSlot interface {
	isInboundSlot()
}

// inboundReceived is "Received{ commitment }": the peer's commitment
// is stored, awaiting local accept/decline.
type inboundReceived struct {
	commitment [32]byte
	conn       ConnID
}

func (inboundReceived) isInboundSlot() {}

// inboundPendingReveal is "PendingReveal{ commitment, random }": the
// local side has accepted and sent its random value, awaiting the
// peer's preimage.
type inboundPendingReveal struct {
	commitment [32]byte
	random     [32]byte
	conn       ConnID
	deadline   time.Time
}

func (inboundPendingReveal) isInboundSlot() {}
