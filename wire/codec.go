package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	tagChallenge        protowire.Number = 1
	tagChallengeAccept  protowire.Number = 2
	tagChallengeReveal  protowire.Number = 3
	tagChallengeCancel  protowire.Number = 4
	tagChallengeDecline protowire.Number = 5

	// fieldValue is the single bytes field (tag 1) inside each
	// non-empty variant's body.
	fieldValue protowire.Number = 1
)

// Encode is total over every Payload this package defines; it fails
// only if called with a Payload implementation from elsewhere.
func Encode(m Message) ([]byte, error) {
	switch p := m.Payload.(type) {
	case nil:
		return nil, nil
	case *Challenge:
		return appendVariant(nil, tagChallenge, appendValue(nil, p.Commitment[:])), nil
	case *ChallengeAccept:
		return appendVariant(nil, tagChallengeAccept, appendValue(nil, p.Random[:])), nil
	case *ChallengeReveal:
		return appendVariant(nil, tagChallengeReveal, appendValue(nil, p.Preimage[:])), nil
	case *ChallengeCancel:
		return appendVariant(nil, tagChallengeCancel, nil), nil
	case *ChallengeDecline:
		return appendVariant(nil, tagChallengeDecline, nil), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownPayload, m.Payload)
	}
}

// Decode parses a single framed protobuf message. An empty input or a
// message with no recognized payload tag decodes successfully to a
// nil Payload; the caller (the handler) is responsible for dropping
// such messages, per spec.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, nil
	}

	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return Message{}, ErrMalformedFrame
	}
	if typ != protowire.BytesType {
		return Message{}, ErrMalformedFrame
	}

	body, m := protowire.ConsumeBytes(data[n:])
	if m < 0 {
		return Message{}, ErrMalformedFrame
	}

	switch protowire.Number(num) {
	case tagChallenge:
		v, err := consumeField(body)
		if err != nil {
			return Message{}, err
		}
		var c Challenge
		copy(c.Commitment[:], v)
		return Message{Payload: &c}, nil

	case tagChallengeAccept:
		v, err := consumeField(body)
		if err != nil {
			return Message{}, err
		}
		var a ChallengeAccept
		copy(a.Random[:], v)
		return Message{Payload: &a}, nil

	case tagChallengeReveal:
		v, err := consumeField(body)
		if err != nil {
			return Message{}, err
		}
		var r ChallengeReveal
		copy(r.Preimage[:], v)
		return Message{Payload: &r}, nil

	case tagChallengeCancel:
		return Message{Payload: &ChallengeCancel{}}, nil

	case tagChallengeDecline:
		return Message{Payload: &ChallengeDecline{}}, nil

	default:
		// Unknown tag: valid frame, semantically empty.
		return Message{}, nil
	}
}

func appendValue(b []byte, v []byte) []byte {
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

func appendVariant(b []byte, tag protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, tag, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b
}

func consumeField(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, ErrMissingField
	}

	num, typ, n := protowire.ConsumeTag(body)
	if n < 0 {
		return nil, ErrMalformedFrame
	}
	if protowire.Number(num) != fieldValue || typ != protowire.BytesType {
		return nil, ErrMissingField
	}

	v, m := protowire.ConsumeBytes(body[n:])
	if m < 0 {
		return nil, ErrMalformedFrame
	}
	if len(v) != FieldSize {
		return nil, ErrFieldSize
	}
	return v, nil
}

// lengthPrefixSize is the width of the frame's length prefix (spec:
// 2-byte big-endian length followed by the encoded message).
const lengthPrefixSize = 2

// MaxFrameSize is the largest encodable message, bounded by the
// 2-byte length prefix.
const MaxFrameSize = 1<<(8*lengthPrefixSize) - 1

// WriteFrame encodes msg and writes it to w as a length-prefixed
// frame: 2-byte big-endian length, then the encoded message.
func WriteFrame(w io.Writer, msg Message) error {
	body, err := Encode(msg)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: encoded message of %d bytes exceeds max frame size %d", len(body), MaxFrameSize)
	}

	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(body)))

	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return fmt.Errorf("wire: write frame body: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (Message, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, fmt.Errorf("wire: read length prefix: %w", err)
	}

	length := binary.BigEndian.Uint16(prefix[:])
	if length == 0 {
		return Message{}, nil
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("wire: read frame body: %w", err)
	}

	return Decode(body)
}
