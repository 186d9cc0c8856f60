package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/ipchess/ipchessd/internal/bytesize"
	"github.com/ipchess/ipchessd/wire"
)

var log = logging.Logger("handler")

// Handler owns one connection's worth of ipchess/1.0.0 substream
// traffic (spec.md §4.2): every Inject opens its own outbound
// substream goroutine, and every inbound substream the node package
// hands to HandleInbound is read by its caller's goroutine — there is
// no shared poll loop, only the bookkeeping below, guarded by a
// mutex, that KeepAlive and the two goroutine kinds read and write.
type Handler struct {
	open        Opener
	idleTimeout time.Duration

	events chan Event

	mu           sync.Mutex
	inFlight     int
	lastActivity time.Time
	poisoned     bool

	wg sync.WaitGroup
}

// New constructs a Handler for one open connection. open is used to
// originate outbound substreams; idleTimeout is the grace period
// KeepAlive reports as Until once nothing is in flight, and also bounds
// each substream's open and I/O deadline.
func New(open Opener, idleTimeout time.Duration) *Handler {
	return &Handler{
		open:         open,
		idleTimeout:  idleTimeout,
		events:       make(chan Event, 32),
		lastActivity: time.Now(),
	}
}

// Out is the channel of decoded inbound frames and substream errors.
func (h *Handler) Out() <-chan Event { return h.events }

// KeepAlive reports this connection's current liveness requirement.
func (h *Handler) KeepAlive() KeepAlive {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.poisoned {
		return KeepAlive{Kind: KeepAliveNo}
	}
	if h.inFlight > 0 {
		return KeepAlive{Kind: KeepAliveYes}
	}
	return KeepAlive{Kind: KeepAliveUntil, Until: h.lastActivity.Add(h.idleTimeout)}
}

// Close waits for every in-flight substream goroutine this Handler
// started to finish, then closes Out. The caller must stop calling
// Inject and HandleInbound before calling Close.
func (h *Handler) Close() {
	h.wg.Wait()
	close(h.events)
}

// Inject asks the handler to act on cmd: Poison latches KeepAlive to
// No immediately and makes every later Inject a no-op; until then,
// every other variant opens a new outbound substream on its own
// goroutine (spec.md §4.3.4's "one substream per exchange
// step", the same shape as the rust handler's PendingOpen state, but
// realized as a goroutine rather than a polled future).
func (h *Handler) Inject(cmd Command) {
	if _, ok := cmd.(Poison); ok {
		h.mu.Lock()
		h.poisoned = true
		h.mu.Unlock()
		return
	}

	msg, err := toWireMessage(cmd)
	if err != nil {
		h.reportError(err)
		return
	}

	h.mu.Lock()
	if h.poisoned {
		h.mu.Unlock()
		log.Debugw("handler poisoned, refusing command", "command", fmt.Sprintf("%T", cmd))
		return
	}
	h.inFlight++
	h.mu.Unlock()

	h.wg.Add(1)
	go h.send(msg)
}

func (h *Handler) send(msg wire.Message) {
	defer h.wg.Done()
	defer h.finishOutbound()

	ctx, cancel := context.WithTimeout(context.Background(), h.idleTimeout)
	defer cancel()

	s, err := h.open(ctx)
	if err != nil {
		h.reportError(fmt.Errorf("handler: open substream: %w", err))
		return
	}
	defer s.Close()

	if err := s.SetDeadline(time.Now().Add(h.idleTimeout)); err != nil {
		h.reportError(fmt.Errorf("handler: set write deadline: %w", err))
		return
	}

	body, err := wire.Encode(msg)
	if err != nil {
		h.reportError(fmt.Errorf("handler: encode frame: %w", err))
		return
	}

	if err := wire.WriteFrame(s, msg); err != nil {
		h.reportError(fmt.Errorf("handler: write frame: %w", err))
		return
	}
	log.Debugw("wrote frame", "size", bytesize.String(len(body)))
}

func (h *Handler) finishOutbound() {
	h.mu.Lock()
	h.inFlight--
	h.lastActivity = time.Now()
	h.mu.Unlock()
}

// HandleInbound reads exactly one framed message from s, translates
// it to an Event and delivers it on Out, then closes s. Call this
// from its own goroutine per inbound substream the runtime accepts —
// the Go equivalent of the rust handler's WaitingMessage state.
func (h *Handler) HandleInbound(s Substream) {
	h.wg.Add(1)
	defer h.wg.Done()
	defer s.Close()

	if err := s.SetDeadline(time.Now().Add(h.idleTimeout)); err != nil {
		h.reportError(fmt.Errorf("handler: set read deadline: %w", err))
		return
	}

	msg, err := wire.ReadFrame(s)
	if err != nil {
		h.reportError(fmt.Errorf("handler: read frame: %w", err))
		return
	}

	h.mu.Lock()
	h.lastActivity = time.Now()
	h.mu.Unlock()

	ev, ok := fromWireMessage(msg)
	if !ok {
		// Semantically empty or unrecognized: valid frame, nothing to
		// report, per wire.Decode's contract.
		log.Debugw("dropping frame with no recognized payload")
		return
	}
	h.events <- ev
}

func toWireMessage(cmd Command) (wire.Message, error) {
	switch c := cmd.(type) {
	case SendChallenge:
		return wire.Message{Payload: &wire.Challenge{Commitment: c.Commitment}}, nil
	case SendChallengeAccept:
		return wire.Message{Payload: &wire.ChallengeAccept{Random: c.Random}}, nil
	case SendChallengeReveal:
		return wire.Message{Payload: &wire.ChallengeReveal{Preimage: c.Preimage}}, nil
	case SendChallengeCancel:
		return wire.Message{Payload: &wire.ChallengeCancel{}}, nil
	case SendChallengeDecline:
		return wire.Message{Payload: &wire.ChallengeDecline{}}, nil
	default:
		return wire.Message{}, fmt.Errorf("handler: unrecognized command %T", cmd)
	}
}

func fromWireMessage(msg wire.Message) (Event, bool) {
	switch p := msg.Payload.(type) {
	case *wire.Challenge:
		return ReceivedChallenge{Commitment: p.Commitment}, true
	case *wire.ChallengeAccept:
		return ReceivedChallengeAccept{Random: p.Random}, true
	case *wire.ChallengeReveal:
		return ReceivedChallengeReveal{Preimage: p.Preimage}, true
	case *wire.ChallengeCancel:
		return ReceivedChallengeCancel{}, true
	case *wire.ChallengeDecline:
		return ReceivedChallengeDecline{}, true
	default:
		return nil, false
	}
}

func (h *Handler) reportError(err error) {
	log.Warnw("substream error", "error", err)
	h.events <- Error{Err: err}
}
