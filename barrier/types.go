// Package barrier implements the distributed collective-barrier core: slot
// table, master-election coordinator, two-phase ENTER/EXIT broadcast
// driver, and the public API. Protocol semantics are grounded directly on
// original_source/src/crt/crt_barrier.c (the CaRT barrier implementation
// this was distilled from); the Go shape of "one struct, one mutex, atomic
// counter fields" follows ais/rebalance.go's rebManager.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package barrier

import "github.com/paglimo/daos/xport"

// CompleteCB is invoked exactly once per successful Barrier call, with
// rc==0 on success, or a non-zero rc on the one unrecoverable, per-barrier
// failure path: the broadcast itself failing to send.
type CompleteCB func(rc int32, arg any)

// slot is one entry of the bounded ring of in-flight barrier state. All
// fields are only ever touched under Coordinator.mu.
type slot struct {
	active      bool                   // a barrier is in progress in this slot
	pendingExit bool                   // master: ENTER acked, EXIT held pending order
	enterRPC    *xport.IncomingRequest // non-master: ENTER that arrived before the local call
	completeCB  CompleteCB
	arg         any
}

// Status is an introspection snapshot, grounded on rebManager.fillinStatus
// (teacher's GET /v1/health rebalance-status pattern).
type Status struct {
	MasterRank int32    `json:"master_rank"`
	NumCreated uint64   `json:"num_created"`
	NumExited  uint64   `json:"num_exited"`
	InFlight   []uint64 `json:"in_flight"` // b_nums of currently active slots
}
