// Package challenge implements the challenge-protocol state machine:
// one Outbound slot and one Inbound slot per peer, advanced by local
// commands, inbound frames and timeouts, and reported through a pair
// of channels a connection handler and a control surface drain.
//
// The machine runs on a single goroutine, modeled directly on the
// event-loop shape of a libp2p pubsub router: every external call
// (Challenge, Accept, Cancel, Decline, Inbound, Connected,
// Disconnected) is a closure mailed to the loop over an unbuffered
// channel rather than a method that locks shared state. There is
// exactly one writer of every slot map, so no mutex guards them.
package challenge

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"io"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
)

var log = logging.Logger("challenge")

// Behaviour is the challenge protocol's per-node state machine. A
// single Behaviour serves every peer the node is connected to; there
// is one Outbound slot and one Inbound slot per peer at most.
type Behaviour struct {
	cfg Config

	mailbox chan func(*behaviourState)
	actions chan Action
	events  chan Event

	cancel context.CancelFunc
	done   chan struct{}
}

// behaviourState is the data the loop goroutine owns exclusively.
type behaviourState struct {
	outbound map[peer.ID]outboundSlot
	inbound  map[peer.ID]inboundSlot
	// connected tracks open connections per peer so Challenge can tell
	// a live NotifyHandler from one that needs a DialPeer first.
	connected map[peer.ID]map[ConnID]struct{}
	// pending holds, per peer, the commands dispatch couldn't deliver
	// because no connection was open yet (spec §3, S6). Connected
	// drains this in FIFO order once a connection appears.
	pending map[peer.ID][]Command
}

// NewBehaviour constructs a Behaviour and starts its loop goroutine.
// Callers must call Close when done.
func NewBehaviour(cfg Config) (*Behaviour, error) {
	if err := VerifyConfig(&cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Behaviour{
		cfg:     cfg,
		mailbox: make(chan func(*behaviourState)),
		actions: make(chan Action, 256),
		events:  make(chan Event, 256),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	st := &behaviourState{
		outbound:  make(map[peer.ID]outboundSlot),
		inbound:   make(map[peer.ID]inboundSlot),
		connected: make(map[peer.ID]map[ConnID]struct{}),
		pending:   make(map[peer.ID][]Command),
	}

	go b.loop(ctx, st)
	return b, nil
}

// Close stops the loop goroutine and waits for it to exit.
func (b *Behaviour) Close() {
	b.cancel()
	<-b.done
}

// Actions is the channel of handler-directed commands and dial
// requests the runtime must drain.
func (b *Behaviour) Actions() <-chan Action { return b.actions }

// Events is the channel of domain-level notifications a control
// surface drains.
func (b *Behaviour) Events() <-chan Event { return b.events }

func (b *Behaviour) loop(ctx context.Context, st *behaviourState) {
	defer close(b.done)

	ticker := time.NewTicker(b.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-b.mailbox:
			fn(st)
		case <-ticker.C:
			b.checkTimeouts(st)
		}
	}
}

// do mails fn to the loop and blocks until it has run. Every public
// method below is a thin wrapper around do — the loop is the only
// goroutine that ever touches a behaviourState.
func (b *Behaviour) do(fn func(*behaviourState)) {
	done := make(chan struct{})
	select {
	case b.mailbox <- func(st *behaviourState) {
		fn(st)
		close(done)
	}:
		<-done
	case <-b.done:
	}
}

func (b *Behaviour) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		log.Warnw("dropping event, consumer too slow", "event", ev)
	}
}

func (b *Behaviour) act(a Action) {
	select {
	case b.actions <- a:
	default:
		log.Warnw("dropping action, runtime too slow", "action", a)
	}
}

// anyConn returns an arbitrary open connection id to peer, if any.
func (st *behaviourState) anyConn(p peer.ID) (ConnID, bool) {
	for c := range st.connected[p] {
		return c, true
	}
	return "", false
}

// --- local command transitions (spec §4.3.1) ---

// Challenge creates an outbound slot for p with a freshly generated
// preimage, and asks the runtime to deliver the corresponding
// Challenge frame. If an outbound slot is already occupied for p, the
// call is an idempotent no-op (spec §4.3.1, §8: "calling challenge(P)
// twice with no intervening state change produces exactly one handler
// command") — the already-committed preimage is left untouched.
func (b *Behaviour) Challenge(p peer.ID) error {
	preimage, err := b.randomField()
	if err != nil {
		return err
	}
	commitment := sha256.Sum256(preimage[:])

	b.do(func(st *behaviourState) {
		if _, ok := st.outbound[p]; ok {
			log.Debugw("ignoring duplicate challenge, outbound slot already occupied", "peer", p)
			return
		}
		st.outbound[p] = outboundSlot{
			preimage: preimage,
			deadline: time.Now().Add(b.cfg.AcceptTimeout),
		}
		b.dispatch(st, p, CommandChallenge{Commitment: commitment})
	})
	return nil
}

// Accept moves p's inbound slot from Received to PendingReveal,
// generating this side's random value and asking the runtime to
// deliver the ChallengeAccept frame back on the connection the
// Challenge arrived on.
func (b *Behaviour) Accept(p peer.ID) error {
	random, err := b.randomField()
	if err != nil {
		return err
	}

	var opErr error
	b.do(func(st *behaviourState) {
		slot, ok := st.inbound[p].(inboundReceived)
		if !ok {
			opErr = ErrNoInboundChallenge
			return
		}
		conn := slot.conn
		st.inbound[p] = inboundPendingReveal{
			commitment: slot.commitment,
			random:     random,
			conn:       conn,
			deadline:   time.Now().Add(b.cfg.RevealTimeout),
		}
		b.act(NotifyHandler{Peer: p, Conn: &conn, Command: CommandChallengeAccept{Random: random}})
	})
	return opErr
}

// Cancel withdraws p's outbound challenge, clearing the slot and
// asking the runtime to deliver a ChallengeCancel frame.
func (b *Behaviour) Cancel(p peer.ID) error {
	var opErr error
	b.do(func(st *behaviourState) {
		if _, ok := st.outbound[p]; !ok {
			opErr = ErrNoOutboundChallenge
			return
		}
		delete(st.outbound, p)
		b.dispatch(st, p, CommandChallengeCancel{})
	})
	return opErr
}

// Decline rejects p's inbound challenge — from either inbound state,
// per spec §9 — clearing the slot and asking the runtime to deliver a
// ChallengeDecline frame back on the connection it arrived on.
func (b *Behaviour) Decline(p peer.ID) error {
	var opErr error
	b.do(func(st *behaviourState) {
		conn, ok := inboundConn(st.inbound[p])
		if !ok {
			opErr = ErrNoInboundChallenge
			return
		}
		delete(st.inbound, p)
		b.act(NotifyHandler{Peer: p, Conn: &conn, Command: CommandChallengeDecline{}})
	})
	return opErr
}

func inboundConn(slot inboundSlot) (ConnID, bool) {
	switch s := slot.(type) {
	case inboundReceived:
		return s.conn, true
	case inboundPendingReveal:
		return s.conn, true
	default:
		return "", false
	}
}

// dispatch asks the runtime to deliver cmd to p on any open
// connection. If none is open, cmd is queued (spec §3: "a per-peer
// ordered queue of commands that could not be delivered because the
// peer was not connected") and a dial is requested instead; Connected
// drains the queue in order once a connection appears (S6).
func (b *Behaviour) dispatch(st *behaviourState, p peer.ID, cmd Command) {
	conn, ok := st.anyConn(p)
	if !ok {
		st.pending[p] = append(st.pending[p], cmd)
		b.act(DialPeer{Peer: p})
		return
	}
	b.act(NotifyHandler{Peer: p, Conn: &conn, Command: cmd})
}

// poison asks the runtime to poison the handler serving conn and
// close its connection (spec §4.3.2, §8, S4/S5). Callers are
// responsible for clearing whatever slot triggered the violation.
func (b *Behaviour) poison(p peer.ID, conn ConnID) {
	b.act(NotifyHandler{Peer: p, Conn: &conn, Command: CommandPoison{}})
}

func (b *Behaviour) randomField() ([32]byte, error) {
	var v [32]byte
	_, err := io.ReadFull(b.cfg.RandomSource, v[:])
	return v, err
}

// --- inbound frame transitions (spec §4.3.2) ---

// Inbound delivers a decoded frame from the connection identified by
// conn, received from p, to the state machine.
func (b *Behaviour) Inbound(p peer.ID, conn ConnID, frame InboundFrame) {
	b.do(func(st *behaviourState) {
		switch f := frame.(type) {
		case FrameChallenge:
			// Last-writer-wins, per spec §9: a fresh Challenge replaces
			// whatever inbound slot, if any, already existed for p.
			st.inbound[p] = inboundReceived{commitment: f.Commitment, conn: conn}
			b.emit(EventPeerChallenge{Peer: p})

		case FrameChallengeAccept:
			slot, ok := st.outbound[p]
			if !ok {
				// Stale/unsolicited (spec §4.3.2): ignore, not an error.
				log.Debugw("ignoring challenge accept with no outbound slot", "peer", p)
				return
			}
			delete(st.outbound, p)
			b.act(NotifyHandler{Peer: p, Conn: &conn, Command: CommandChallengeReveal{Preimage: slot.preimage}})
			b.emit(EventChallengeAccepted{Peer: p, Seed: Seed{Preimage: slot.preimage, Random: f.Random}})

		case FrameChallengeReveal:
			slot, ok := st.inbound[p]
			if !ok {
				// Inbound slot empty (spec §4.3.2): ignore, not an error.
				log.Debugw("ignoring challenge reveal with no inbound slot", "peer", p)
				return
			}
			pending, ok := slot.(inboundPendingReveal)
			if !ok {
				// Reveal before local accept (spec §4.3.2, §8, S5): clear
				// the slot, poison the handler, report ChallengePoisoned.
				delete(st.inbound, p)
				b.poison(p, conn)
				b.emit(EventError{Peer: p, Err: &ChallengePoisonedError{Peer: p, Reason: ErrUnexpectedReveal}})
				return
			}
			delete(st.inbound, p)
			got := sha256.Sum256(f.Preimage[:])
			if subtle.ConstantTimeCompare(got[:], pending.commitment[:]) != 1 {
				// Tampered reveal (spec §8, S4): poison the handler too.
				b.poison(p, conn)
				b.emit(EventError{Peer: p, Err: &ChallengePoisonedError{Peer: p, Reason: &CommitmentMismatchError{
					Commitment: pending.commitment,
					Preimage:   f.Preimage,
				}}})
				return
			}
			b.emit(EventChallengeAccepted{Peer: p, Seed: Seed{Preimage: f.Preimage, Random: pending.random}})

		case FrameChallengeCancel:
			if _, ok := st.inbound[p]; !ok {
				// Else ignore (spec §4.3.2).
				log.Debugw("ignoring challenge cancel with no inbound slot", "peer", p)
				return
			}
			delete(st.inbound, p)
			b.emit(EventChallengeCanceled{Peer: p})

		case FrameChallengeDecline:
			if _, ok := st.outbound[p]; !ok {
				// Else ignore (spec §4.3.2).
				log.Debugw("ignoring challenge decline with no outbound slot", "peer", p)
				return
			}
			delete(st.outbound, p)
			b.emit(EventChallengeDeclined{Peer: p})
		}
	})
}

// --- connection lifecycle ---

// Connected registers a newly opened connection conn to p and
// replays, in order, any commands that were queued while p had no
// open connection (spec §3, S6).
func (b *Behaviour) Connected(p peer.ID, conn ConnID) {
	b.do(func(st *behaviourState) {
		if st.connected[p] == nil {
			st.connected[p] = make(map[ConnID]struct{})
		}
		st.connected[p][conn] = struct{}{}

		queued := st.pending[p]
		delete(st.pending, p)
		for _, cmd := range queued {
			b.act(NotifyHandler{Peer: p, Conn: &conn, Command: cmd})
		}
	})
}

// Disconnected unregisters conn. It does not clear any slot: spec §9
// leaves slots to time out on their own schedule rather than being
// torn down the instant a connection drops, since a peer may still
// reconnect and resume the exchange on a new connection.
func (b *Behaviour) Disconnected(p peer.ID, conn ConnID) {
	b.do(func(st *behaviourState) {
		delete(st.connected[p], conn)
		if len(st.connected[p]) == 0 {
			delete(st.connected, p)
		}
	})
}

// --- timeouts (spec §4.3.3) ---

func (b *Behaviour) checkTimeouts(st *behaviourState) {
	now := time.Now()

	for p, slot := range st.outbound {
		if now.After(slot.deadline) {
			delete(st.outbound, p)
			b.emit(EventTimeout{Peer: p, Direction: DirectionOutbound})
		}
	}

	for p, slot := range st.inbound {
		pending, ok := slot.(inboundPendingReveal)
		if !ok {
			continue
		}
		if now.After(pending.deadline) {
			delete(st.inbound, p)
			b.emit(EventTimeout{Peer: p, Direction: DirectionInbound})
		}
	}
}
