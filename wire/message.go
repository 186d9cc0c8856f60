// Package wire implements the framed protocol message exchanged over an
// ipchess/1.0.0 substream: a tagged union over five payload variants,
// each carrying at most one field, as specified by the protocol.
package wire

import "errors"

// FieldSize is the fixed length of commitment, random and preimage
// values on the wire.
const FieldSize = 32

// Sentinel codec errors. An I/O error from the underlying reader or
// writer is not one of these: ReadFrame and WriteFrame wrap it instead.
var (
	// ErrMissingField is returned when a variant with a required bytes
	// field carries no value, or the value has the wrong tag/wire type.
	ErrMissingField = errors.New("wire: missing required field")
	// ErrFieldSize is returned when commitment/random/preimage is not
	// exactly FieldSize bytes. The spec permits an implementation to
	// accept arbitrary lengths for forward compatibility but requires it
	// to *produce* 32-byte values; this implementation takes the
	// conservative reading and rejects any other length outright (see
	// DESIGN.md).
	ErrFieldSize = errors.New("wire: field is not 32 bytes")
	// ErrMalformedFrame is returned for any other protobuf-level parse
	// failure (bad varint, truncated tag, non-bytes wire type at the
	// union level).
	ErrMalformedFrame = errors.New("wire: malformed frame")
	// ErrUnknownPayload is returned by Encode for a Payload
	// implementation this package did not create.
	ErrUnknownPayload = errors.New("wire: unknown payload type")
)

// Payload is the sum type of the five message variants. Exactly one
// concrete type, or nil for a semantically empty message (no payload
// tag present on the wire — valid, but must be dropped by the caller).
type Payload interface {
	isPayload()
}

// Challenge is variant 1: the challenger's commitment to a preimage.
type Challenge struct {
	Commitment [FieldSize]byte
}

// ChallengeAccept is variant 2: the challenged peer's random value.
type ChallengeAccept struct {
	Random [FieldSize]byte
}

// ChallengeReveal is variant 3: the challenger's preimage.
type ChallengeReveal struct {
	Preimage [FieldSize]byte
}

// ChallengeCancel is variant 4: an empty message withdrawing an
// outstanding challenge.
type ChallengeCancel struct{}

// ChallengeDecline is variant 5: an empty message declining an
// outstanding challenge.
type ChallengeDecline struct{}

func (*Challenge) isPayload()        {}
func (*ChallengeAccept) isPayload()  {}
func (*ChallengeReveal) isPayload()  {}
func (*ChallengeCancel) isPayload()  {}
func (*ChallengeDecline) isPayload() {}

// Message is the top-level union framed on the wire.
type Message struct {
	Payload Payload
}
