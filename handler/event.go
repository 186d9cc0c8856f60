package handler

// Event is the sum type a Handler reports on its Out channel: one
// variant per decoded inbound wire message, plus Error for anything
// that went wrong reading or writing a substream.
type Event interface {
	isEvent()
}

// ReceivedChallenge reports a decoded inbound Challenge frame.
type ReceivedChallenge struct {
	Commitment [32]byte
}

// ReceivedChallengeAccept reports a decoded inbound ChallengeAccept
// frame.
type ReceivedChallengeAccept struct {
	Random [32]byte
}

// ReceivedChallengeReveal reports a decoded inbound ChallengeReveal
// frame.
type ReceivedChallengeReveal struct {
	Preimage [32]byte
}

// ReceivedChallengeCancel reports a decoded inbound ChallengeCancel
// frame.
type ReceivedChallengeCancel struct{}

// ReceivedChallengeDecline reports a decoded inbound ChallengeDecline
// frame.
type ReceivedChallengeDecline struct{}

// Error reports that a substream read, write or decode failed. Err
// is never nil.
type Error struct {
	Err error
}

func (ReceivedChallenge) isEvent()        {}
func (ReceivedChallengeAccept) isEvent()  {}
func (ReceivedChallengeReveal) isEvent()  {}
func (ReceivedChallengeCancel) isEvent()  {}
func (ReceivedChallengeDecline) isEvent() {}
func (Error) isEvent()                    {}
