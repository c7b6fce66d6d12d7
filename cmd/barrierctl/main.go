// Command barrierctl drives a simulated group through a series of
// collective barriers, for manual exercise of the broadcast driver and
// master-failover path without any real cluster.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"

	"github.com/paglimo/daos/barrier"
	"github.com/paglimo/daos/cluster"
	"github.com/paglimo/daos/cmn"
	"github.com/paglimo/daos/xport"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	app := cli.NewApp()
	app.Name = "barrierctl"
	app.Usage = "exercise the collective barrier core against a simulated group"
	app.Flags = []cli.Flag{
		cli.IntFlag{Name: "ranks", Value: 4, Usage: "number of simulated group members"},
		cli.IntFlag{Name: "rounds", Value: 3, Usage: "number of consecutive barriers to run"},
		cli.BoolFlag{Name: "kill-master", Usage: "fail the master rank mid-round to exercise failover"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		glog.Exitf("barrierctl: %v", err)
	}
}

func run(c *cli.Context) error {
	n := c.Int("ranks")
	rounds := c.Int("rounds")
	if n < 1 {
		return fmt.Errorf("ranks must be >= 1")
	}

	roster := make([]cluster.Rank, n)
	for i := range roster {
		roster[i] = cluster.Rank(i)
	}
	tr := xport.NewSimTransport()
	groups := make([]*cluster.Group, n)
	coords := make([]*barrier.Coordinator, n)
	for i := 0; i < n; i++ {
		groups[i] = cluster.New("barrierctl", roster, cluster.Rank(i))
		coords[i] = barrier.InfoInit(groups[i], tr)
	}

	for round := 1; round <= rounds; round++ {
		glog.Infof("round %d: starting barrier across %d ranks", round, n)
		start := time.Now()

		var wg sync.WaitGroup
		wg.Add(n)
		for i, co := range coords {
			rank := i
			if err := barrier.Barrier(co, func(rc int32, _ any) {
				if rc != 0 {
					glog.Errorf("rank %d: barrier failed rc=%d", rank, rc)
				}
				wg.Done()
			}, nil); err != nil {
				glog.Errorf("rank %d: barrier call failed: %v", rank, err)
				wg.Done()
			}
		}

		if round == 1 && c.Bool("kill-master") && n > 1 {
			time.Sleep(5 * time.Millisecond)
			glog.Infof("simulating master (rank 0) failure")
			for _, g := range groups {
				g.MarkFailed(0)
			}
		}

		wg.Wait()
		glog.Infof("round %d: complete in %s", round, time.Since(start))
		dumpStatus(coords[0])
	}
	return nil
}

// dumpStatus logs c's barrier status as JSON (run passes rank 0, the
// initial master), the same way the
// teacher's status-reporting handlers marshal their response structs with
// jsoniter rather than hand-building output. Marshaling barrier.Status is
// expected to be impossible to fail - every field is a plain int/slice we
// control - so a marshal error here means a bug in Status itself, not a
// condition to recover from.
func dumpStatus(c *barrier.Coordinator) {
	b, err := jsonAPI.Marshal(c.Status())
	cmn.AssertNoErr(err)
	glog.Infof("status: %s", b)
}
