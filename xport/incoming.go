package xport

import "sync"

// IncomingRequest is the receiving-side handle for one delivery of a
// collective RPC - the "held enter RPC" pattern. It must be replied to
// exactly once, either synchronously inside the HandlerFunc or later, once
// AddRef has kept it alive past the handler's return (mirrors
// req_addref/req_decref).
type IncomingRequest struct {
	bNum    uint64
	mu      sync.Mutex
	refs    int
	replied bool
	replyCh chan int32
}

func newIncomingRequest(bNum uint64) *IncomingRequest {
	return &IncomingRequest{bNum: bNum, replyCh: make(chan int32, 1)}
}

// BNum returns the barrier sequence number carried by this delivery.
func (ir *IncomingRequest) BNum() uint64 { return ir.bNum }

// AddRef keeps the request alive past the handler's return, mirroring
// crt_req_addref; pair with DecRef once the deferred reply has been sent.
func (ir *IncomingRequest) AddRef() {
	ir.mu.Lock()
	ir.refs++
	ir.mu.Unlock()
}

// DecRef drops a reference taken by AddRef. It does not itself reply -
// Reply must still be called exactly once.
func (ir *IncomingRequest) DecRef() {
	ir.mu.Lock()
	if ir.refs > 0 {
		ir.refs--
	}
	ir.mu.Unlock()
}

// Reply sends rc back to the collective's aggregator. Safe to call from
// any goroutine, at most once; a second call is a no-op (mirrors the
// source's own single reply_send per rpc_req, and keeps duplicate-ENTER
// replay paths - which construct a fresh IncomingRequest per delivery -
// from ever double-sending on the same one).
func (ir *IncomingRequest) Reply(rc int32) {
	ir.mu.Lock()
	defer ir.mu.Unlock()
	if ir.replied {
		return
	}
	ir.replied = true
	ir.replyCh <- rc
}
