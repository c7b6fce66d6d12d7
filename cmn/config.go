package cmn

import (
	"time"

	"go.uber.org/atomic"
)

// Config holds the process-wide barrier tunables. Unlike aistore's Config,
// which is large and mostly bucket/storage-related, this one only carries
// what the barrier core and its collective-RPC transport actually read.
type Config struct {
	// MaxInflight bounds simultaneously active barriers per group: size
	// of the slot ring, bNum mod MaxInflight indexes a slot.
	MaxInflight int
	// TreeFanout is k in the k-nomial broadcast tree.
	TreeFanout int
	// ResendBackoff is how long the broadcast driver waits before
	// resending an ENTER/EXIT after a transport failure or non-zero
	// aggregate reply.
	ResendBackoff time.Duration
}

// DefaultConfig returns a small MaxInflight and a k=4 k-nomial fanout,
// matching typical collective-barrier deployments.
func DefaultConfig() *Config {
	return &Config{
		MaxInflight:   4,
		TreeFanout:    4,
		ResendBackoff: 10 * time.Millisecond,
	}
}

// globalConfigOwner atomically swaps the process-wide *Config, mirroring
// aistore's cmn.GCO (ais/rebalance.go: "config := cmn.GCO.Get()").
type globalConfigOwner struct {
	cfg atomic.Value // holds *Config
}

func (o *globalConfigOwner) Get() *Config {
	v := o.cfg.Load()
	if v == nil {
		return DefaultConfig()
	}
	return v.(*Config)
}

func (o *globalConfigOwner) Put(cfg *Config) { o.cfg.Store(cfg) }

// GCO is the process-wide config owner, read via cmn.GCO.Get() throughout
// the barrier core exactly as ais/rebalance.go reads cmn.GCO.Get()
// throughout.
var GCO = &globalConfigOwner{}

func init() { GCO.Put(DefaultConfig()) }
