package handler

import "time"

// KeepAliveKind mirrors libp2p's connection-manager KeepAlive policy
// (spec.md §4.2): Yes while work is outstanding, Until a deadline
// while merely idle, No once poisoned.
type KeepAliveKind int

const (
	KeepAliveYes KeepAliveKind = iota
	KeepAliveUntil
	KeepAliveNo
)

// KeepAlive is the value a Handler's KeepAlive method returns. Until
// is only meaningful when Kind is KeepAliveUntil.
type KeepAlive struct {
	Kind  KeepAliveKind
	Until time.Time
}
