package barrier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paglimo/daos/cluster"
	"github.com/paglimo/daos/cmn"
	"github.com/paglimo/daos/xport"
)

func init() {
	// Keep retries snappy so failure-path tests don't sit through the
	// production backoff.
	cmn.GCO.Put(&cmn.Config{MaxInflight: 4, TreeFanout: 4, ResendBackoff: time.Millisecond})
}

// newRing wires up n coordinators sharing one SimTransport, each backed by
// its own Group view of the same roster.
func newRing(t *testing.T, n int) ([]*Coordinator, []*cluster.Group, *xport.SimTransport) {
	t.Helper()
	roster := make([]cluster.Rank, n)
	for i := range roster {
		roster[i] = cluster.Rank(i)
	}
	tr := xport.NewSimTransport()
	coords := make([]*Coordinator, n)
	groups := make([]*cluster.Group, n)
	for i := 0; i < n; i++ {
		g := cluster.New("test-grp", roster, cluster.Rank(i))
		groups[i] = g
		coords[i] = InfoInit(g, tr)
	}
	return coords, groups, tr
}

func TestBarrierThreeRanksHappyPath(t *testing.T) {
	coords, _, _ := newRing(t, 3)

	var wg sync.WaitGroup
	wg.Add(3)
	for _, c := range coords {
		c := c
		err := Barrier(c, func(rc int32, _ any) {
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
		t.Fatal("barrier never completed")
	}

	for _, c := range coords {
		st := c.Status()
		assert.EqualValues(t, 1, st.NumCreated)
		assert.EqualValues(t, 1, st.NumExited)
		assert.Empty(t, st.InFlight)
	}
}

func TestBarrierBackToBack(t *testing.T) {
	coords, _, _ := newRing(t, 3)

	for round := 1; round <= 3; round++ {
		var wg sync.WaitGroup
		wg.Add(len(coords))
		for _, c := range coords {
			err := Barrier(c, func(rc int32, _ any) {
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

	for _, c := range coords {
		st := c.Status()
		assert.EqualValues(t, 3, st.NumCreated)
		assert.EqualValues(t, 3, st.NumExited)
	}
}

func TestBarrierDuplicateEnterIsIdempotent(t *testing.T) {
	coords, _, tr := newRing(t, 3)

	// Rank 1 will see its ENTER reply "lost" once, forcing the master to
	// resend and rank 1's handler to process the same bNum twice.
	tr.DropReplyNext(1, xport.OpBarrierEnter, 1, 1)

	var callCount int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(coords))
	for _, c := range coords {
		err := Barrier(c, func(rc int32, _ any) {
			mu.Lock()
			callCount++
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
		t.Fatal("barrier never completed despite duplicate ENTER")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.EqualValues(t, len(coords), callCount, "completion callback must fire exactly once per rank")
}

func TestBarrierMasterFailoverReplay(t *testing.T) {
	coords, groups, tr := newRing(t, 3)
	master := coords[0]

	// Rank 2 never sees the master's ENTER arrive (simulated network
	// partition to just that rank), so the barrier is stuck in flight
	// when the master is declared failed.
	tr.DropNext(2, xport.OpBarrierEnter, 1, 1000)

	cbFired := make(chan int32, 3)
	for _, c := range coords {
		err := Barrier(c, func(rc int32, _ any) { cbFired <- rc }, nil)
		require.NoError(t, err)
	}

	time.Sleep(20 * time.Millisecond)
	for _, st := range []Status{master.Status()} {
		assert.EqualValues(t, 0, st.NumExited, "barrier should still be stuck")
	}

	// Clear the partition and fail the master over to rank 1.
	tr.DropNext(2, xport.OpBarrierEnter, 1, 0)
	for _, g := range groups {
		g.MarkFailed(0)
	}

	select {
	case <-cbFired:
	case <-time.After(2 * time.Second):
		t.Fatal("barrier never completed after master failover")
	}
	<-cbFired
	<-cbFired

	for _, c := range coords[1:] {
		assert.EqualValues(t, cluster.Rank(1), c.Status().MasterRank)
	}
}

func TestBarrierBusyAtMaxInflightPlusOne(t *testing.T) {
	roster := []cluster.Rank{0, 1}
	tr := xport.NewSimTransport()
	g0 := cluster.New("test-grp", roster, 0)
	g1 := cluster.New("test-grp", roster, 1)
	c0 := InfoInit(g0, tr)
	// Deliberately do not InfoInit rank 1, so rank 0's broadcasts to it
	// never get a handler and every barrier hangs forever - keeping every
	// slot permanently active.
	_ = g1

	cfg := cmn.GCO.Get()
	for i := 0; i < cfg.MaxInflight; i++ {
		err := Barrier(c0, func(int32, any) {}, nil)
		require.NoError(t, err)
	}
	// bNum == MaxInflight+1 maps to the same ring slot as bNum == 1,
	// which is still active.
	err := Barrier(c0, func(int32, any) {}, nil)
	assert.ErrorIs(t, err, cmn.ErrBusy)
}

func TestBarrierSingleMemberFastPath(t *testing.T) {
	g := cluster.New("solo-grp", []cluster.Rank{0}, 0)
	tr := xport.NewSimTransport()
	c := InfoInit(g, tr)

	fired := false
	err := Barrier(c, func(rc int32, _ any) {
		fired = true
		assert.Equal(t, int32(0), rc)
	}, nil)
	require.NoError(t, err)
	assert.True(t, fired, "single-member barrier must complete synchronously")
}
