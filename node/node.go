// Package node wires a challenge.Behaviour and one handler.Handler
// per open connection to a real libp2p Host — the composition layer
// of spec.md §4.4, playing the part the rust Swarm plays in the
// original daemon and agentImpl plays in the teacher's agent-tcp
// package.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"

	"github.com/ipchess/ipchessd/challenge"
	"github.com/ipchess/ipchessd/handler"
)

// ProtocolID is the ASCII wire protocol id substreams are negotiated
// against.
const ProtocolID protocol.ID = "/ipchess/1.0.0"

var log = logging.Logger("node")

// Node owns the Host, the Behaviour, and one Handler per open
// connection. It drains Behaviour.Actions() and dispatches them
// against the Host, and routes inbound substreams and handler events
// back into the Behaviour.
type Node struct {
	host host.Host
	b    *challenge.Behaviour

	idleTimeout time.Duration

	mu       sync.Mutex
	handlers map[challenge.ConnID]*handler.Handler
	conns    map[challenge.ConnID]network.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Node, registers the ipchess stream handler and
// connection notifiee on h, and starts the action-dispatch loop.
func New(h host.Host, cfg challenge.Config, idleTimeout time.Duration) (*Node, error) {
	b, err := challenge.NewBehaviour(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		host:        h,
		b:           b,
		idleTimeout: idleTimeout,
		handlers:    make(map[challenge.ConnID]*handler.Handler),
		conns:       make(map[challenge.ConnID]network.Conn),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	h.SetStreamHandler(ProtocolID, n.handleInboundStream)
	h.Network().Notify(&notifiee{n: n})

	go n.dispatchLoop(ctx)
	return n, nil
}

// Close stops the dispatch loop and the underlying Behaviour.
func (n *Node) Close() {
	n.cancel()
	<-n.done
	n.b.Close()
}

// AddAddress remembers a multiaddr for p so a later Dial action has
// somewhere to go — lifted from the original daemon's address book
// (daemon/src/behaviour.rs), not present in spec.md's scored core.
func (n *Node) AddAddress(p peer.ID, addr multiaddr.Multiaddr) {
	n.host.Peerstore().AddAddr(p, addr, time.Hour)
}

// Connected reports whether the node currently has any open
// connection to p — the is_connected-style connectivity probe lifted
// from the original daemon's Behaviour.
func (n *Node) Connected(p peer.ID) bool {
	return n.host.Network().Connectedness(p) == network.Connected
}

func connIDOf(c network.Conn) challenge.ConnID {
	return challenge.ConnID(c.ID())
}

// dispatchLoop drains Behaviour.Actions() and turns each into a real
// libp2p call: NotifyHandler becomes handler.Handler.Inject on the
// addressed connection (or, with a nil Conn, any open one), DialPeer
// becomes host.Connect.
func (n *Node) dispatchLoop(ctx context.Context) {
	defer close(n.done)

	for {
		select {
		case <-ctx.Done():
			return
		case a := <-n.b.Actions():
			n.dispatch(ctx, a)
		}
	}
}

func (n *Node) dispatch(ctx context.Context, a challenge.Action) {
	switch action := a.(type) {
	case challenge.NotifyHandler:
		n.notifyHandler(action)
	case challenge.DialPeer:
		n.dialPeer(ctx, action.Peer)
	default:
		log.Warnw("unrecognized action", "action", a)
	}
}

func (n *Node) notifyHandler(a challenge.NotifyHandler) {
	h, conn, ok := n.pickHandler(a.Peer, a.Conn)
	if !ok {
		log.Warnw("no handler for notify, dropping command", "peer", a.Peer)
		return
	}
	h.Inject(toHandlerCommand(a.Command))

	if _, poisoning := a.Command.(challenge.CommandPoison); poisoning {
		n.closeConn(conn)
	}
}

// pickHandler resolves the handler (and the connection it serves) for
// a NotifyHandler action: a specific connection if named, or any open
// connection to the peer otherwise.
func (n *Node) pickHandler(p peer.ID, conn *challenge.ConnID) (*handler.Handler, challenge.ConnID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if conn != nil {
		h, ok := n.handlers[*conn]
		return h, *conn, ok
	}
	for id, c := range n.conns {
		if c.RemotePeer() == p {
			return n.handlers[id], id, true
		}
	}
	return nil, "", false
}

// closeConn tears down the real libp2p connection identified by conn,
// used both to enforce a poisoned handler (spec §4.3.2, S4/S5) and to
// tear down a connection after a local handler I/O error.
func (n *Node) closeConn(conn challenge.ConnID) {
	n.mu.Lock()
	c, ok := n.conns[conn]
	n.mu.Unlock()
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		log.Warnw("error closing connection", "conn", conn, "error", err)
	}
}

func (n *Node) dialPeer(ctx context.Context, p peer.ID) {
	if n.Connected(p) {
		return
	}
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := n.host.Connect(dialCtx, peer.AddrInfo{ID: p}); err != nil {
		log.Warnw("dial failed", "peer", p, "error", err)
	}
}

func (n *Node) handleInboundStream(s network.Stream) {
	p := s.Conn().RemotePeer()
	conn := connIDOf(s.Conn())

	n.mu.Lock()
	h, ok := n.handlers[conn]
	n.mu.Unlock()
	if !ok {
		log.Warnw("inbound stream on unregistered connection, resetting", "peer", p)
		s.Reset()
		return
	}

	go h.HandleInbound(s)
}

// drainHandler forwards every event h ever reports — one per decoded
// inbound frame, or a substream error — to the Behaviour, until h
// closes its Out channel in response to the connection closing.
func (n *Node) drainHandler(p peer.ID, conn challenge.ConnID, h *handler.Handler) {
	for ev := range h.Out() {
		n.deliverHandlerEvent(p, conn, ev)
	}
}

func (n *Node) deliverHandlerEvent(p peer.ID, conn challenge.ConnID, ev handler.Event) {
	frame, ok := toInboundFrame(ev)
	if !ok {
		if errEv, isErr := ev.(handler.Error); isErr {
			// Local-fatal-to-connection (spec §7): codec/substream I/O
			// failures close the connection directly; the Behaviour is
			// not notified and will observe the subsequent Disconnected.
			log.Warnw("handler reported error, closing connection", "peer", p, "error", errEv.Err)
			n.closeConn(conn)
		}
		return
	}
	n.b.Inbound(p, conn, frame)
}

func toHandlerCommand(cmd challenge.Command) handler.Command {
	switch c := cmd.(type) {
	case challenge.CommandChallenge:
		return handler.SendChallenge{Commitment: c.Commitment}
	case challenge.CommandChallengeAccept:
		return handler.SendChallengeAccept{Random: c.Random}
	case challenge.CommandChallengeReveal:
		return handler.SendChallengeReveal{Preimage: c.Preimage}
	case challenge.CommandChallengeCancel:
		return handler.SendChallengeCancel{}
	case challenge.CommandChallengeDecline:
		return handler.SendChallengeDecline{}
	case challenge.CommandPoison:
		return handler.Poison{}
	default:
		panic(fmt.Sprintf("node: unrecognized challenge command %T", cmd))
	}
}

func toInboundFrame(ev handler.Event) (challenge.InboundFrame, bool) {
	switch e := ev.(type) {
	case handler.ReceivedChallenge:
		return challenge.FrameChallenge{Commitment: e.Commitment}, true
	case handler.ReceivedChallengeAccept:
		return challenge.FrameChallengeAccept{Random: e.Random}, true
	case handler.ReceivedChallengeReveal:
		return challenge.FrameChallengeReveal{Preimage: e.Preimage}, true
	case handler.ReceivedChallengeCancel:
		return challenge.FrameChallengeCancel{}, true
	case handler.ReceivedChallengeDecline:
		return challenge.FrameChallengeDecline{}, true
	default:
		return nil, false
	}
}

// notifiee adapts connection-established/closed callbacks into
// Behaviour.Connected/Disconnected and this Node's connection and
// handler bookkeeping.
type notifiee struct {
	n *Node
}

func (no *notifiee) Connected(_ network.Network, c network.Conn) {
	n := no.n
	conn := connIDOf(c)
	p := c.RemotePeer()

	h := handler.New(n.opener(c), n.idleTimeout)

	n.mu.Lock()
	n.conns[conn] = c
	n.handlers[conn] = h
	n.mu.Unlock()

	go n.drainHandler(p, conn, h)
	n.b.Connected(p, conn)
}

func (no *notifiee) Disconnected(_ network.Network, c network.Conn) {
	n := no.n
	conn := connIDOf(c)
	p := c.RemotePeer()

	n.mu.Lock()
	h, ok := n.handlers[conn]
	delete(n.handlers, conn)
	delete(n.conns, conn)
	n.mu.Unlock()

	if ok {
		h.Close()
	}
	n.b.Disconnected(p, conn)
}

func (no *notifiee) Listen(network.Network, multiaddr.Multiaddr)      {}
func (no *notifiee) ListenClose(network.Network, multiaddr.Multiaddr) {}

// opener returns a handler.Opener that negotiates a fresh outbound
// ProtocolID substream to c's remote peer for every call, through
// host.NewStream; the host picks which open connection carries it.
func (n *Node) opener(c network.Conn) handler.Opener {
	return func(ctx context.Context) (handler.Substream, error) {
		s, err := n.host.NewStream(ctx, c.RemotePeer(), ProtocolID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
