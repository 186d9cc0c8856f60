package challenge

import "github.com/libp2p/go-libp2p/core/peer"

// Command is the sum type of messages a Behaviour asks a connection
// handler to send on its behalf (spec §4.2's NotifyHandler side of the
// handler/behaviour boundary). It mirrors wire.Payload for the same
// reason InboundFrame does: no framing dependency, just shape.
type Command interface {
	isCommand()
}

// CommandChallenge asks the handler to send a Challenge carrying
// commitment.
type CommandChallenge struct {
	Commitment [32]byte
}

// CommandChallengeAccept asks the handler to send a ChallengeAccept
// carrying random.
type CommandChallengeAccept struct {
	Random [32]byte
}

// CommandChallengeReveal asks the handler to send a ChallengeReveal
// carrying preimage.
type CommandChallengeReveal struct {
	Preimage [32]byte
}

// CommandChallengeCancel asks the handler to send a ChallengeCancel.
type CommandChallengeCancel struct{}

// CommandChallengeDecline asks the handler to send a ChallengeDecline.
type CommandChallengeDecline struct{}

// CommandPoison asks the runtime to mark the handler serving this
// exchange as poisoned and close its connection — the wire-level
// counterpart of a ChallengePoisonedError (spec §4.3.2, §8, S4/S5).
// Unlike the other Commands it is never encoded onto the wire itself.
type CommandPoison struct{}

func (CommandChallenge) isCommand()        {}
func (CommandChallengeAccept) isCommand()  {}
func (CommandChallengeReveal) isCommand()  {}
func (CommandChallengeCancel) isCommand()  {}
func (CommandChallengeDecline) isCommand() {}
func (CommandPoison) isCommand()           {}

// Action is the sum type a Behaviour emits on its Actions channel: a
// handler-directed Command routed to a specific peer (and, when it
// matters, a specific connection), or a request that the runtime dial
// a peer it has no open connection to yet.
type Action interface {
	isAction()
}

// NotifyHandler asks the runtime to deliver Command to the handler
// instance serving (Peer, Conn). A nil Conn means any open connection
// to Peer will do; Behaviour itself always names one, picking an
// arbitrary open connection for a command that starts an exchange. A
// Conn taken from an inbound frame is the duplicate-connection routing
// of spec §4.3.4: once a reply has arrived on a specific connection,
// every further command for that exchange goes back out the same one.
type NotifyHandler struct {
	Peer    peer.ID
	Conn    *ConnID
	Command Command
}

// DialPeer asks the runtime to open a connection to Peer because a
// local command needs one and none is currently open.
type DialPeer struct {
	Peer peer.ID
}

func (NotifyHandler) isAction() {}
func (DialPeer) isAction()      {}

// Direction distinguishes which side of an exchange timed out.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

func (d Direction) String() string {
	switch d {
	case DirectionOutbound:
		return "outbound"
	case DirectionInbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// Seed is the agreed match seed produced once both the challenger's
// preimage and the challenged peer's random value are known: the pair
// itself, not a derived hash, so the caller can choose how to fold
// them into a deterministic seed.
type Seed struct {
	Preimage [32]byte
	Random   [32]byte
}

// Event is the sum type of domain-level notifications a Behaviour
// emits on its Events channel, forming the control-surface contract of
// spec §6. These are distinct from InboundFrame: an Event reports a
// state-machine outcome, not a decoded wire message.
type Event interface {
	isEvent()
}

// EventPeerChallenge reports that Peer has challenged the local node
// (an inbound Challenge frame moved a slot to Received).
type EventPeerChallenge struct {
	Peer peer.ID
}

// EventChallengeAccepted reports that an exchange with Peer completed:
// both values are known and Seed is ready to use.
type EventChallengeAccepted struct {
	Peer peer.ID
	Seed Seed
}

// EventChallengeDeclined reports that Peer declined this node's
// outbound challenge.
type EventChallengeDeclined struct {
	Peer peer.ID
}

// EventChallengeCanceled reports that Peer withdrew its challenge to
// this node before it was accepted or declined.
type EventChallengeCanceled struct {
	Peer peer.ID
}

// EventTimeout reports that a slot with Peer was cleared because its
// deadline elapsed before the exchange completed.
type EventTimeout struct {
	Peer      peer.ID
	Direction Direction
}

// EventError reports a protocol violation attributed to Peer (spec
// §7): a reveal whose preimage does not hash to the stored commitment,
// or a reveal that arrives before this side accepted. Err is then a
// *ChallengePoisonedError. Frames with no corresponding slot are
// ignored and produce no EventError.
type EventError struct {
	Peer peer.ID
	Err  error
}

func (EventPeerChallenge) isEvent()     {}
func (EventChallengeAccepted) isEvent() {}
func (EventChallengeDeclined) isEvent() {}
func (EventChallengeCanceled) isEvent() {}
func (EventTimeout) isEvent()           {}
func (EventError) isEvent()             {}
