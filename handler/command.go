// Package handler implements the per-connection substream bookkeeping
// of the ipchess/1.0.0 protocol: one Handler per open connection,
// translating Commands into outbound substreams and inbound
// substreams into Events, with a goroutine per substream in place of
// a hand-rolled poll loop.
package handler

// Command is the sum type of instructions a Handler's owner (the node
// package, acting on behalf of challenge.Action) gives a Handler:
// one variant per outbound wire message, plus Poison.
type Command interface {
	isCommand()
}

// SendChallenge asks the handler to open a substream and write a
// Challenge frame carrying commitment.
type SendChallenge struct {
	Commitment [32]byte
}

// SendChallengeAccept asks the handler to write a ChallengeAccept
// frame carrying random.
type SendChallengeAccept struct {
	Random [32]byte
}

// SendChallengeReveal asks the handler to write a ChallengeReveal
// frame carrying preimage.
type SendChallengeReveal struct {
	Preimage [32]byte
}

// SendChallengeCancel asks the handler to write a ChallengeCancel
// frame.
type SendChallengeCancel struct{}

// SendChallengeDecline asks the handler to write a ChallengeDecline
// frame.
type SendChallengeDecline struct{}

// Poison marks the handler as having witnessed a protocol violation:
// KeepAlive reports No from this point on and further Inject calls
// are refused, mirroring the rust handler's handler_error_received
// latch.
type Poison struct{}

func (SendChallenge) isCommand()        {}
func (SendChallengeAccept) isCommand()  {}
func (SendChallengeReveal) isCommand()  {}
func (SendChallengeCancel) isCommand()  {}
func (SendChallengeDecline) isCommand() {}
func (Poison) isCommand()               {}
