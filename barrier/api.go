package barrier

import "github.com/paglimo/daos/cmn"

// Barrier starts a new collective barrier on c's group and returns
// immediately; cb fires exactly once, asynchronously, when every member
// has arrived (rc==0) or the broadcast itself could not be sent (rc!=0).
// For a single-member group cb fires synchronously, before Barrier returns.
// Mirrors crt_barrier: every rank, master or not, locally advances its own
// enter counter and activates a slot; only the master actually drives the
// wire broadcast.
func Barrier(c *Coordinator, cb CompleteCB, arg any) error {
	if c == nil {
		return cmn.ErrUninit
	}
	g := c.group
	if !g.Service {
		return cmn.ErrNoPerm
	}
	if !g.Primary || !g.Local {
		return cmn.ErrOutOfGroup
	}
	if cb == nil {
		return cmn.ErrInval
	}

	if g.Size() == 1 {
		// No need for a broadcast.
		cb(0, arg)
		return nil
	}

	c.mu.Lock()
	enterNum := c.numCreated.Load() + 1
	s := c.slotFor(enterNum)
	if s.active {
		c.mu.Unlock()
		return cmn.ErrBusy
	}

	s.active = true
	s.completeCB = cb
	s.arg = arg
	// If the master's ENTER already arrived, this is non-nil; save it so
	// we can reply now that the local call has caught up.
	heldRPC := s.enterRPC
	s.enterRPC = nil
	c.numCreated.Store(enterNum)
	isMaster := c.masterRank == g.Self
	c.mu.Unlock()

	if heldRPC != nil {
		heldRPC.Reply(0)
		heldRPC.DecRef()
	}

	if isMaster {
		c.sendEnter(enterNum)
	}
	return nil
}
