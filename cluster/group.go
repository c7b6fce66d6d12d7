// Package cluster implements the group-view collaborator: group identity,
// the ordered member roster, the local rank, and the current failed-rank
// set, behind a reader/writer lock - grounded on aistore's
// cluster.Snode/cluster.NodeMap/smapowner roster/lock shape
// (ais/rebalance.go, ais/target.go).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cluster

import "sync"

// Rank identifies a member process within a group.
type Rank = int32

// Group is the local view of one process group: its ordered roster, the
// local rank, and the set of ranks currently believed failed. Barrier
// invariants rely on Roster never reordering once a rank has joined;
// members may only be appended or marked failed.
type Group struct {
	mu sync.RWMutex

	ID      string
	Roster  []Rank // ascending member ranks; index i is rank Roster[i]
	Self    Rank
	Primary bool // top-level, locally-served group
	Service bool // false for client groups - barrier calls return ErrNoPerm
	Local   bool // false for remote groups - barrier calls return ErrOutOfGroup

	failed map[Rank]struct{}

	evictHooks []func()
}

// New constructs a primary, local, service group with the given roster.
// self must be present in roster.
func New(id string, roster []Rank, self Rank) *Group {
	cp := make([]Rank, len(roster))
	copy(cp, roster)
	return &Group{
		ID:      id,
		Roster:  cp,
		Self:    self,
		Primary: true,
		Service: true,
		Local:   true,
		failed:  make(map[Rank]struct{}),
	}
}

// Size returns the current member count. A single-member group takes the
// barrier fast path: the callback fires immediately, no broadcast needed.
func (g *Group) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.Roster)
}

// IsFailed reports whether rank is currently in the failed set.
func (g *Group) IsFailed(rank Rank) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.IsFailedLocked(rank)
}

// IsFailedLocked is IsFailed without taking g's lock itself - callers must
// already hold it (e.g. from within a WithRLock callback). sync.RWMutex
// does not support recursive RLock from the same goroutine when a writer
// is queued in between, so code that already holds the lock must read the
// failed set through this method, never through IsFailed.
func (g *Group) IsFailedLocked(rank Rank) bool {
	_, bad := g.failed[rank]
	return bad
}

// FailedRanks returns a snapshot copy of the failed-rank set.
func (g *Group) FailedRanks() map[Rank]struct{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cp := make(map[Rank]struct{}, len(g.failed))
	for r := range g.failed {
		cp[r] = struct{}{}
	}
	return cp
}

// RosterSnapshot returns a copy of the current ordered roster.
func (g *Group) RosterSnapshot() []Rank {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cp := make([]Rank, len(g.Roster))
	copy(cp, g.Roster)
	return cp
}

// OnEviction registers a hook invoked after MarkFailed evicts a rank. The
// hook runs with the group's lock released, matching the required lock
// ordering (coordinator mutex -> group lock, never the reverse): callers
// that take the coordinator's mutex inside the hook must not also hold
// the group lock there.
func (g *Group) OnEviction(fn func()) {
	g.mu.Lock()
	g.evictHooks = append(g.evictHooks, fn)
	g.mu.Unlock()
}

// MarkFailed adds rank to the failed set and fires eviction hooks, so the
// barrier core can re-elect a master and replay as needed. A rank already
// marked failed triggers no hooks (idempotent).
func (g *Group) MarkFailed(rank Rank) {
	g.mu.Lock()
	_, already := g.failed[rank]
	if !already {
		g.failed[rank] = struct{}{}
	}
	hooks := g.evictHooks
	g.mu.Unlock()

	if already {
		return
	}
	for _, h := range hooks {
		h()
	}
}

// WithRLock runs fn while holding the group's read lock; used by
// barrier.UpdateMaster, which needs a consistent view of membership while
// re-deriving the master rank.
func (g *Group) WithRLock(fn func()) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn()
}
