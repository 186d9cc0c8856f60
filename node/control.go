package node

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/ipchess/ipchessd/challenge"
)

// This file is the control-surface contract of spec.md §6: the
// handful of methods and one event stream an external component (a
// CLI, or a JSON-RPC/WebSocket gateway such as the original
// daemon/src/api.rs — deliberately out of scope here, see spec.md §1)
// drives a Node through. No RPC transport lives in this package; it
// is plain Go, forwarded straight to the Behaviour.

// Events is the domain event stream of spec.md §6:
// PeerChallenge/ChallengeAccepted/ChallengeDeclined/
// ChallengeCanceled/Timeout/Error.
func (n *Node) Events() <-chan challenge.Event { return n.b.Events() }

// Challenge asks the node to send a fresh challenge to p.
func (n *Node) Challenge(p peer.ID) error { return n.b.Challenge(p) }

// Accept accepts p's outstanding inbound challenge.
func (n *Node) Accept(p peer.ID) error { return n.b.Accept(p) }

// Cancel withdraws this node's outstanding outbound challenge to p.
func (n *Node) Cancel(p peer.ID) error { return n.b.Cancel(p) }

// Decline rejects p's outstanding inbound challenge.
func (n *Node) Decline(p peer.ID) error { return n.b.Decline(p) }
