package barrier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paglimo/daos/cluster"
	"github.com/paglimo/daos/xport"
)

// runRounds drives n back-to-back barriers across coords and returns, for
// each round, the completion order observed across all ranks (the round
// number repeated once per rank, in the order its callback fired).
func runRounds(t *testing.T, coords []*Coordinator, rounds int) []int {
	t.Helper()
	var mu sync.Mutex
	var order []int

	for round := 1; round <= rounds; round++ {
		var wg sync.WaitGroup
		wg.Add(len(coords))
		for _, c := range coords {
			err := Barrier(c, func(rc int32, _ any) {
				mu.Lock()
				order = append(order, round)
				mu.Unlock()
				assert.Equal(t, int32(0), rc)
				wg.Done()
			}, nil)
			require.NoError(t, err)
		}
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d never completed", round)
		}
	}
	return order
}

// TestInvariantNumExitedNeverExceedsNumCreated checks the quantified
// invariant numExited <= numCreated holds at every coordinator, at every
// round boundary, across a table of ring sizes and round counts.
func TestInvariantNumExitedNeverExceedsNumCreated(t *testing.T) {
	cases := []struct {
		name   string
		ranks  int
		rounds int
	}{
		{"two-ranks-one-round", 2, 1},
		{"three-ranks-several-rounds", 3, 5},
		{"five-ranks-one-round", 5, 1},
		{"single-rank-several-rounds", 1, 4},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			coords, _, _ := newRing(t, tc.ranks)
			runRounds(t, coords, tc.rounds)
			// A single-member group takes Barrier's fast path, which
			// assigns no bNum and leaves both counters at zero.
			want := tc.rounds
			if tc.ranks == 1 {
				want = 0
			}
			for _, c := range coords {
				st := c.Status()
				assert.LessOrEqual(t, st.NumExited, st.NumCreated,
					"numExited must never exceed numCreated")
				assert.EqualValues(t, want, st.NumCreated)
				assert.EqualValues(t, want, st.NumExited)
			}
		})
	}
}

// TestInvariantCompletionOrderMonotone checks that each rank observes its
// own barrier completions in non-decreasing bNum order - back-to-back
// barriers never complete out of sequence relative to one another.
func TestInvariantCompletionOrderMonotone(t *testing.T) {
	coords, _, _ := newRing(t, 3)
	order := runRounds(t, coords, 6)

	require.Len(t, order, 3*6)
	last := 0
	for _, round := range order {
		assert.GreaterOrEqual(t, round, last, "completion order must be monotone")
		last = round
	}
}

// TestIdempotenceAcrossReplyLossTable drives the duplicate-ENTER scenario
// over a table of (rank, loss-count) reply-loss configurations and checks
// the completion callback still fires exactly once per rank regardless of
// how many times the reply was lost and the ENTER resent.
func TestIdempotenceAcrossReplyLossTable(t *testing.T) {
	cases := []struct {
		name      string
		lossyRank cluster.Rank
		lossCount int
	}{
		{"single-reply-loss", 1, 1},
		{"double-reply-loss", 2, 2},
		{"triple-reply-loss", 1, 3},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			coords, _, tr := newRing(t, 3)
			tr.DropReplyNext(tc.lossyRank, xport.OpBarrierEnter, 1, tc.lossCount)

			var mu sync.Mutex
			fired := make(map[int]int)
			var wg sync.WaitGroup
			wg.Add(len(coords))
			for i, c := range coords {
				rank := i
				err := Barrier(c, func(rc int32, _ any) {
					mu.Lock()
					fired[rank]++
					mu.Unlock()
					assert.Equal(t, int32(0), rc)
					wg.Done()
				}, nil)
				require.NoError(t, err)
			}

			done := make(chan struct{})
			go func() { wg.Wait(); close(done) }()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("barrier never completed despite repeated reply loss")
			}

			mu.Lock()
			defer mu.Unlock()
			for rank, count := range fired {
				assert.Equal(t, 1, count, "rank %d's completion callback fired more than once", rank)
			}
			assert.Len(t, fired, len(coords))
		})
	}
}
