package xport

import (
	"fmt"
	"sync"

	"github.com/paglimo/daos/cluster"
	"github.com/paglimo/daos/cmn"
)

// SimTransport is an in-memory, goroutine-driven reference implementation
// of Transport standing in for the real unreliable collective-RPC network,
// the same relationship aistore's tutils mock senders have to a real
// transport.StreamBundle. It supports injectable per-(rank,opcode,bNum)
// drops and outright send-construction failures so scenarios involving
// duplicate delivery and catastrophic send failure can be driven
// deterministically.
type SimTransport struct {
	mu       sync.Mutex
	handlers map[handlerKey]HandlerFunc

	// dropOnce holds a remaining count per (rank, op, bNum) key: while it
	// is positive, each delivery to that rank for that opcode+bNum
	// decrements it and is treated as a transport failure (simulating a
	// dropped/timed-out message) instead of being delivered to the handler.
	dropOnce map[dropKey]int

	// dropReplyOnce holds a remaining count per (rank, op, bNum) key:
	// while it is positive, each delivery decrements it; the handler is
	// invoked and processes the request normally, but the reply is
	// reported as a transport failure instead of its
	// real rc - simulating an acked request whose response was lost,
	// which is what makes the master resend and the handler see the
	// same request a second time.
	dropReplyOnce map[dropKey]int

	// sendFail, if non-nil, is consulted on every Send before any
	// delivery is attempted; a non-nil return simulates send_barrier_msg's
	// corpc_req_create/crt_req_send failing outright.
	sendFail func(from cluster.Rank, op Opcode, bNum uint64) error
}

type handlerKey struct {
	rank cluster.Rank
	op   Opcode
}

type dropKey struct {
	rank cluster.Rank
	op   Opcode
	bNum uint64
}

// NewSimTransport constructs an empty simulated transport with no
// registered handlers and no fault injection active.
func NewSimTransport() *SimTransport {
	return &SimTransport{
		handlers:      make(map[handlerKey]HandlerFunc),
		dropOnce:      make(map[dropKey]int),
		dropReplyOnce: make(map[dropKey]int),
	}
}

// RegisterHandler implements Transport.
func (t *SimTransport) RegisterHandler(rank cluster.Rank, op Opcode, h HandlerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[handlerKey{rank, op}] = h
}

// NewCollective implements Transport.
func (t *SimTransport) NewCollective(from cluster.Rank, roster, exclude []cluster.Rank, op Opcode, _ Topology, bNum uint64) *Request {
	excluded := make(map[cluster.Rank]struct{}, len(exclude))
	for _, r := range exclude {
		excluded[r] = struct{}{}
	}
	targets := make([]cluster.Rank, 0, len(roster))
	for _, r := range roster {
		if _, skip := excluded[r]; skip {
			continue
		}
		targets = append(targets, r)
	}
	return &Request{transport: t, from: from, targets: targets, op: op, bNum: bNum}
}

// DropNext arranges for the next `count` deliveries of (op, bNum) to rank
// to be treated as transport failures, simulating message loss on an
// otherwise-healthy link.
func (t *SimTransport) DropNext(rank cluster.Rank, op Opcode, bNum uint64, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropOnce[dropKey{rank, op, bNum}] = count
}

// DropReplyNext arranges for the next `count` deliveries of (op, bNum) to
// rank to reach the handler and be processed normally, but have their
// reply reported as a transport failure - simulating the request's
// acknowledgement being lost rather than the request itself. This is what
// produces a genuine duplicate handler invocation once the sender resends.
func (t *SimTransport) DropReplyNext(rank cluster.Rank, op Opcode, bNum uint64, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropReplyOnce[dropKey{rank, op, bNum}] = count
}

// FailSendWith installs fn as the catastrophic-send-failure injector
// (send_barrier_msg's failure path); fn is consulted once per Send call,
// before any delivery. Pass nil to clear.
func (t *SimTransport) FailSendWith(fn func(from cluster.Rank, op Opcode, bNum uint64) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendFail = fn
}

// deliveryResult is one target's outcome: either a reply rc or a
// transport-level failure (message never delivered/replied).
type deliveryResult struct {
	rc  int32
	err error
}

func (t *SimTransport) send(req *Request, cb CompletionFunc) error {
	t.mu.Lock()
	failFn := t.sendFail
	t.mu.Unlock()
	if failFn != nil {
		if err := failFn(req.from, req.op, req.bNum); err != nil {
			return err
		}
	}

	results := make(chan deliveryResult, len(req.targets))
	for _, target := range req.targets {
		go t.deliver(req, target, results)
	}

	go func() {
		var aggregateRC int32 // first non-zero child result wins
		var transportErr error
		for range req.targets {
			d := <-results
			if d.err != nil && transportErr == nil {
				transportErr = d.err
			}
			if d.rc != 0 && aggregateRC == 0 {
				aggregateRC = d.rc
			}
		}
		cb(aggregateRC, transportErr)
	}()
	return nil
}

func (t *SimTransport) deliver(req *Request, target cluster.Rank, results chan<- deliveryResult) {
	t.mu.Lock()
	key := dropKey{target, req.op, req.bNum}
	if n := t.dropOnce[key]; n > 0 {
		t.dropOnce[key] = n - 1
		t.mu.Unlock()
		results <- deliveryResult{0, fmt.Errorf("simulated transport failure: rank %d op %s bnum %d", target, req.op, req.bNum)}
		return
	}
	handler := t.handlers[handlerKey{target, req.op}]
	t.mu.Unlock()

	if handler == nil {
		results <- deliveryResult{0, fmt.Errorf("%w: rank %d", cmn.ErrNonexist, target)}
		return
	}

	ir := newIncomingRequest(req.bNum)
	handler(ir)
	rc := <-ir.replyCh

	t.mu.Lock()
	lostReply := false
	if n := t.dropReplyOnce[key]; n > 0 {
		t.dropReplyOnce[key] = n - 1
		lostReply = true
	}
	t.mu.Unlock()
	if lostReply {
		results <- deliveryResult{0, fmt.Errorf("simulated reply loss: rank %d op %s bnum %d", target, req.op, req.bNum)}
		return
	}
	results <- deliveryResult{rc, nil}
}

var _ Transport = (*SimTransport)(nil)
