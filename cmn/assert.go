// Package cmn provides low-level invariant, config, and error-taxonomy
// helpers shared across the barrier core.
/*
 * Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.
 */
package cmn

import "fmt"

// Assert panics if cond is false. Reserved for invariants that must never
// be false absent a bug in the caller - not for validating external input.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertMsg is like Assert but panics with msg attached for context.
func AssertMsg(cond bool, msg string) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: %s", msg))
	}
}

// AssertNoErr panics if err != nil. Used at call sites where the error
// is expected to be impossible (e.g. marshaling a type we control).
func AssertNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("unexpected error: %v", err))
	}
}
