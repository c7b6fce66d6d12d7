package barrier

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/golang/glog"

	"github.com/paglimo/daos/cluster"
	"github.com/paglimo/daos/cmn"
	"github.com/paglimo/daos/xport"
)

// Coordinator is the per-group barrier protocol engine: the slot ring plus
// the master-election/replay state. One mutex (mu, the source's bi_lock)
// guards every field below it.
type Coordinator struct {
	group     *cluster.Group
	transport xport.Transport
	topo      xport.Topology
	maxInflt  int

	mu          sync.Mutex // bi_lock: guards everything below
	slots       []slot
	masterRank  cluster.Rank
	masterIdx   int
	excludeSelf []cluster.Rank

	numCreated atomic.Uint64
	numExited  atomic.Uint64
}

// InfoInit initializes barrier state for g (mirrors
// barrier_info_init(group_priv)): sets the master to the lowest-numbered
// member rank, caches the exclude-self rank list, and registers ENTER/EXIT
// RPC handlers plus the group's eviction hook.
func InfoInit(g *cluster.Group, t xport.Transport) *Coordinator {
	cfg := cmn.GCO.Get()
	cmn.Assert(cfg.MaxInflight > 0)
	roster := g.RosterSnapshot()
	cmn.AssertMsg(len(roster) > 0, "barrier: group has no members")

	c := &Coordinator{
		group:       g,
		transport:   t,
		topo:        xport.Topology{Kind: xport.TopoKNomial, K: cfg.TreeFanout},
		maxInflt:    cfg.MaxInflight,
		slots:       make([]slot, cfg.MaxInflight),
		masterRank:  roster[0], // initially the lowest-numbered member
		masterIdx:   0,
		excludeSelf: []cluster.Rank{g.Self},
	}
	t.RegisterHandler(g.Self, xport.OpBarrierEnter, c.handleEnter)
	t.RegisterHandler(g.Self, xport.OpBarrierExit, c.handleExit)
	g.OnEviction(c.HandleEviction)
	return c
}

// Destroy tears down barrier state (mirrors barrier_info_destroy). Go's GC
// reclaims the mutex and slice the source manually frees (bi_lock,
// bi_exclude_self); kept as an explicit call for symmetry with the rest of
// the API surface and so callers have a place to unregister, if ever
// needed.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i] = slot{}
	}
}

// slotFor returns the slot for bNum: index is bNum mod len(slots). Caller
// must hold mu.
func (c *Coordinator) slotFor(bNum uint64) *slot {
	return &c.slots[int(bNum%uint64(c.maxInflt))]
}

// UpdateMaster re-derives the master rank from the group's failed-rank
// set. Returns true iff the master changed. Takes mu first, then the
// group's read lock - in that order, exactly once each - matching the
// package's mu-then-group-lock discipline; callers of UpdateMaster must
// not be holding mu. The group's read lock, once taken via WithRLock, is
// never re-entered from inside the callback (sync.RWMutex doesn't support
// a second RLock from the same goroutine while a writer is queued in
// between) - failed-rank checks go through IsFailedLocked instead.
func (c *Coordinator) UpdateMaster() (changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.group.WithRLock(func() {
		if !c.group.IsFailedLocked(c.masterRank) {
			return
		}
		roster := c.group.Roster // safe: caller holds the group's read lock
		changed = true
		found := false
		for i := c.masterIdx + 1; i < len(roster); i++ {
			if !c.group.IsFailedLocked(roster[i]) {
				c.masterRank = roster[i]
				c.masterIdx = i
				found = true
				break
			}
		}
		// The local rank is always live here; if every later rank is
		// also failed, the group/failure-detector layer violated its
		// contract - panic, as the source's own C_ASSERTF does, rather
		// than silently leaving a dead master.
		cmn.AssertMsg(found, "barrier: no live rank found past current master for failover")
	})
	return changed
}

// HandleEviction is the membership-change hook (mirrors
// barrier_handle_eviction): re-elects the master and, if this rank just
// became master, replays the enter/exit messages other ranks may have
// missed.
func (c *Coordinator) HandleEviction() {
	if !c.UpdateMaster() {
		return // same master as before
	}

	c.mu.Lock()
	isNewMaster := c.masterRank == c.group.Self
	c.mu.Unlock()
	if !isNewMaster {
		return // another rank will drive replay
	}

	c.mu.Lock()
	savedExited := c.numExited.Load()
	savedCreated := c.numCreated.Load()
	c.mu.Unlock()

	glog.Infof("barrier: new master for group %s, replaying from exited=%d created=%d",
		c.group.ID, savedExited, savedCreated)

	// Replay protocol: ranks that missed the last exit get it again
	// (duplicates are tolerated by the exited-counter check in
	// handleExit); then replay any enters that completed locally but
	// whose exit broadcast never reached the group.
	if glog.V(4) {
		glog.Infof("barrier: group %s replaying exit bnum=%d", c.group.ID, savedExited)
	}
	c.sendExit(savedExited)
	for k := savedExited + 1; k <= savedCreated; k++ {
		if glog.V(4) {
			glog.Infof("barrier: group %s replaying enter bnum=%d", c.group.ID, k)
		}
		c.sendEnter(k)
	}
	// This trailing exit is sent even when savedCreated == savedExited,
	// in which case it targets a bNum never seen by anyone. Kept as-is -
	// harmless, since the duplicate check in handleExit replies to it
	// without side effects.
	c.sendExit(savedCreated + 1)
}

// Status returns a point-in-time snapshot for diagnostics.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		MasterRank: c.masterRank,
		NumCreated: c.numCreated.Load(),
		NumExited:  c.numExited.Load(),
	}
	// Only the most recent maxInflt barriers that have not exited can
	// occupy a slot.
	lo := st.NumExited
	if n := uint64(c.maxInflt); st.NumCreated > n && st.NumCreated-n > lo {
		lo = st.NumCreated - n
	}
	for k := lo + 1; k <= st.NumCreated; k++ {
		if c.slotFor(k).active {
			st.InFlight = append(st.InFlight, k)
		}
	}
	c.mu.Unlock()
	return st
}
