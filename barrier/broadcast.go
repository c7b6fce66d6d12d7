package barrier

import (
	"time"

	"github.com/golang/glog"

	"github.com/paglimo/daos/cmn"
	"github.com/paglimo/daos/xport"
)

// sendEnter drives a collective ENTER broadcast to every other member for
// bNum, on behalf of the master. Dispatch is asynchronous - the caller
// (Barrier, or the eviction replay path) never blocks on it - and retries
// forever on transport failure or a non-zero aggregate reply, with a
// fixed backoff between attempts, mirroring send_barrier_msg's resend
// loop for CRT_OPC_BARRIER_ENTER.
func (c *Coordinator) sendEnter(bNum uint64) {
	go c.send(bNum, xport.OpBarrierEnter, func() {
		c.enterDone(bNum)
	})
}

// sendExit drives a collective EXIT broadcast to every other member for
// bNum, on behalf of the master. Also asynchronous; see sendEnter.
func (c *Coordinator) sendExit(bNum uint64) {
	go c.send(bNum, xport.OpBarrierExit, func() {
		c.exitDone(bNum)
	})
}

// send is the shared resend loop for both phases, run on its own
// goroutine by sendEnter/sendExit. doneFn is called once the aggregate
// reply comes back clean (rc==0, no transport error); a non-zero rc or a
// transport error always triggers a retry after a fixed backoff, matching
// the "always retry, no backoff cap" posture of the source's send path. A
// catastrophic, synchronous error from Request.Send (the RPC could not
// even be constructed/dispatched) deactivates the slot and reports
// failure to its completion callback exactly once, without ever retrying.
func (c *Coordinator) send(bNum uint64, op xport.Opcode, doneFn func()) {
	group := c.group
	roster := group.RosterSnapshot()
	cfg := cmn.GCO.Get()

	for attempt := 1; ; attempt++ {
		if glog.V(4) {
			glog.Infof("barrier: %s bnum=%d attempt=%d sending to %v", op, bNum, attempt, roster)
		}
		req := c.transport.NewCollective(group.Self, roster, c.excludeSelf, op, c.topo, bNum)
		done := make(chan struct{})
		var aggregateRC int32
		var transportErr error

		sendErr := req.Send(func(rc int32, terr error) {
			aggregateRC, transportErr = rc, terr
			close(done)
		})
		if sendErr != nil {
			glog.Errorf("barrier: %s bnum=%d failed to send: %v", op, bNum, sendErr)
			c.failSlot(bNum)
			return
		}

		<-done
		if transportErr == nil && aggregateRC == 0 {
			if glog.V(4) {
				glog.Infof("barrier: %s bnum=%d attempt=%d completed clean", op, bNum, attempt)
			}
			doneFn()
			return
		}
		glog.Warningf("barrier: %s bnum=%d retrying (rc=%d transportErr=%v)", op, bNum, aggregateRC, transportErr)
		time.Sleep(cfg.ResendBackoff)
	}
}

// failSlot handles the one unrecoverable per-barrier failure: the
// broadcast could not even be dispatched. The slot is deactivated and its
// completion callback invoked with a non-zero rc exactly once; no retry is
// attempted, matching send_barrier_msg's own documented failure mode.
func (c *Coordinator) failSlot(bNum uint64) {
	c.mu.Lock()
	s := c.slotFor(bNum)
	cb, arg := s.completeCB, s.arg
	*s = slot{}
	c.mu.Unlock()

	if cb != nil {
		cb(-1, arg)
	}
}
