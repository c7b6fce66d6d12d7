package barrier

import (
	"github.com/paglimo/daos/cmn"
	"github.com/paglimo/daos/xport"
)

// handleEnter is the ENTER RPC handler run on every non-master rank
// (mirrors crt_hdlr_barrier_enter). If the local call for this bNum has
// not yet arrived, the request is held in the slot and answered later by
// Barrier; otherwise it is answered immediately, which also covers
// replayed/duplicate ENTERs sent after a master failover.
func (c *Coordinator) handleEnter(ir *xport.IncomingRequest) {
	bNum := ir.BNum()

	c.mu.Lock()
	if c.numExited.Load() >= bNum {
		// Duplicate: this barrier already finished locally.
		c.mu.Unlock()
		ir.Reply(0)
		return
	}

	s := c.slotFor(bNum)
	if !s.active {
		// Local node hasn't arrived yet; hold the RPC for Barrier to
		// answer once it does.
		s.enterRPC = ir
		ir.AddRef()
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Local node already arrived. This can happen more than once when a
	// failed master's ENTER is replayed; replying again is harmless.
	ir.Reply(0)
}

// handleExit is the EXIT RPC handler run on every non-master rank
// (mirrors crt_hdlr_barrier_exit). It advances the exited counter,
// deactivates the slot, and invokes the local completion callback exactly
// once even if the message is replayed.
func (c *Coordinator) handleExit(ir *xport.IncomingRequest) {
	bNum := ir.BNum()

	c.mu.Lock()
	if c.numExited.Load() >= bNum {
		c.mu.Unlock()
		ir.Reply(0)
		return
	}
	cmn.AssertMsg(bNum == c.numExited.Load()+1, "barrier exit out of order")

	c.numExited.Store(bNum)
	s := c.slotFor(bNum)
	s.active = false
	cb, arg := s.completeCB, s.arg
	s.completeCB, s.arg = nil, nil
	c.mu.Unlock()

	if cb != nil {
		cb(0, arg)
	}
	ir.Reply(0)
}

// enterDone runs on the master once the ENTER broadcast for bNum
// completes cleanly (mirrors barrier_enter_cb's success path). It marks
// the slot pending-exit and, if no earlier barrier is still outstanding,
// immediately starts the EXIT phase.
func (c *Coordinator) enterDone(bNum uint64) {
	c.mu.Lock()
	s := c.slotFor(bNum)
	s.pendingExit = true
	readyToExit := false
	if c.numExited.Load() == bNum-1 {
		readyToExit = true
		s.pendingExit = false
	}
	c.mu.Unlock()

	if readyToExit {
		c.sendExit(bNum)
	}
}

// exitDone runs on the master once the EXIT broadcast for bNum completes
// cleanly (mirrors barrier_exit_cb's success path). It advances the
// exited counter, deactivates the slot, fires the local completion
// callback, and cascades into the next barrier's EXIT if it was left
// waiting on this one.
func (c *Coordinator) exitDone(bNum uint64) {
	c.mu.Lock()
	var cb CompleteCB
	var arg any
	if c.numExited.Load() < bNum {
		// otherwise this is a replay of an already-applied exit
		cmn.AssertMsg(c.numExited.Load() == bNum-1, "barrier exit out of order")
		c.numExited.Store(bNum)
		s := c.slotFor(bNum)
		s.active = false
		cb, arg = s.completeCB, s.arg
		s.completeCB, s.arg = nil, nil
	}
	c.mu.Unlock()

	if cb != nil {
		cb(0, arg)
	}

	next := bNum + 1
	c.mu.Lock()
	ns := c.slotFor(next)
	cascade := ns.active && ns.pendingExit
	if cascade {
		ns.pendingExit = false
	}
	c.mu.Unlock()

	if cascade {
		c.sendExit(next)
	}
}
