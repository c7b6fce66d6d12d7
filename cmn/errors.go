package cmn

import "errors"

// Barrier error taxonomy. Checked with errors.Is at call sites. Barrier
// returns them unwrapped, since the rc-style kind is the whole of what a
// caller needs to decide how to react; the simulated transport wraps
// ErrNonexist with the unreachable rank.
var (
	// ErrUninit: runtime or default RPC context not ready.
	ErrUninit = errors.New("daos-barrier: not initialized")
	// ErrInval: required argument missing (e.g. nil completion callback).
	ErrInval = errors.New("daos-barrier: invalid argument")
	// ErrNoPerm: barrier invoked on a non-service (client) group.
	ErrNoPerm = errors.New("daos-barrier: not permitted on client group")
	// ErrOutOfGroup: barrier invoked on a secondary or remote group.
	ErrOutOfGroup = errors.New("daos-barrier: barrier not supported on this group")
	// ErrBusy: more than MaxInflight barriers outstanding.
	ErrBusy = errors.New("daos-barrier: too many in-flight barriers")
	// ErrNonexist: RPC handler received a request for an unresolvable group.
	ErrNonexist = errors.New("daos-barrier: no such group")
)
