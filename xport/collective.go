// Package xport implements the collective-RPC transport collaborator:
// construction and async send of a tree-topology broadcast RPC with
// aggregated reply, plus the deferred-reply/refcounting handle the barrier
// core's "held enter RPC" pattern needs.
//
// Grounded on ais/rebalance.go's own fan-out-then-collect send/ACK-wait
// loop, the broadcast idiom actually present in the teacher's tree; cross-
// checked against two unrelated forks under the pack's other_examples/
// (not the teacher's own tree) for the same shape:
// other_examples/cb2f0a1d_tomzhang-aistore__ais-metasync.go.go's
// broadcastTo/bcastCallArgs and
// other_examples/ba318ed1_rajatrh-aistore__reb-bcast.go.go's reb.bcast
// (WaitGroup fan-out, per-target callback, atomic failure count).
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package xport

import "github.com/paglimo/daos/cluster"

// Opcode identifies a registered collective-RPC handler (mirrors
// OPC_BARRIER_ENTER, OPC_BARRIER_EXIT).
type Opcode uint8

const (
	OpBarrierEnter Opcode = iota
	OpBarrierExit
)

func (op Opcode) String() string {
	switch op {
	case OpBarrierEnter:
		return "ENTER"
	case OpBarrierExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// TopoKind enumerates collective broadcast tree shapes. Only k-nomial is
// used by the barrier core, but the type exists so Topology isn't a bare
// int - matching crt_tree_topo()'s own small enum.
type TopoKind uint8

const (
	TopoKNomial TopoKind = iota
)

// Topology describes the broadcast tree shape used for a collective RPC.
type Topology struct {
	Kind TopoKind
	K    int // fan-out; the barrier core takes it from Config.TreeFanout (default 4)
}

// CompletionFunc is invoked exactly once when a collective RPC completes or
// is determined to have failed in transport. rc is the aggregate reply
// (first non-zero child result, else zero); transportErr is non-nil when
// the collective itself could not be delivered/completed, independent of
// rc - both are treated as distinct failure signals that trigger a resend.
type CompletionFunc func(rc int32, transportErr error)

// HandlerFunc processes an incoming collective RPC on a non-master rank.
// It may reply synchronously via ir.Reply, or retain ir past the
// handler's return - after calling ir.AddRef - and reply later once the
// local caller arrives.
type HandlerFunc func(ir *IncomingRequest)

// Transport is the collective-RPC collaborator the barrier core depends
// on: constructing and sending a collective RPC, and registering
// per-rank, per-opcode handlers for incoming collectives.
type Transport interface {
	// RegisterHandler installs h as the handler for incoming op-RPCs
	// addressed to rank.
	RegisterHandler(rank cluster.Rank, op Opcode, h HandlerFunc)
	// NewCollective constructs a collective RPC from "from" to every rank
	// in roster except those in exclude, mirroring corpc_create's
	// exclude-list parameter.
	NewCollective(from cluster.Rank, roster, exclude []cluster.Rank, op Opcode, topo Topology, bNum uint64) *Request
}

// Request is a constructed, not-yet-sent (or in-flight) collective RPC -
// mirrors crt_rpc_t as used by send_barrier_msg/crt_req_send.
type Request struct {
	transport *SimTransport
	from      cluster.Rank
	targets   []cluster.Rank
	op        Opcode
	bNum      uint64
}

// Send asynchronously dispatches the collective RPC; cb fires exactly once
// on completion or in-flight transport failure (req_send's async
// completion model). A non-nil return is the synchronous, catastrophic
// failure to even construct/send the RPC - e.g. crt_req_send itself
// returning non-zero - distinct from, and never retried the way, an async
// transport failure reported to cb is.
func (r *Request) Send(cb CompletionFunc) error {
	return r.transport.send(r, cb)
}

// BNum returns the barrier sequence number this request carries.
func (r *Request) BNum() uint64 { return r.bNum }
