package metrics

import (
	"time"

	"github.com/suncumby/drms/pkg/manager"
	"github.com/suncumby/drms/pkg/types"
)

// Collector polls a Manager replica on a fixed interval and republishes
// its local store state as gauges: storage-unit counts by mode, open
// session count, tape-group count, and this replica's Raft position.
type Collector struct {
	manager *manager.Manager
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector for mgr.
func NewCollector(mgr *manager.Manager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins polling in its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the polling goroutine.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectStorageUnitMetrics()
	c.collectSessionMetrics()
	c.collectTapeGroupMetrics()
	c.collectRaftMetrics()
}

func (c *Collector) collectStorageUnitMetrics() {
	units, err := c.manager.ListStorageUnits()
	if err != nil {
		return
	}

	counts := map[types.SUMode]int{}
	for _, su := range units {
		counts[su.Mode]++
	}
	StorageUnitsTotal.WithLabelValues("readwrite").Set(float64(counts[types.SUReadWrite]))
	StorageUnitsTotal.WithLabelValues("readonly").Set(float64(counts[types.SUReadOnly]))
}

func (c *Collector) collectSessionMetrics() {
	sessions, err := c.manager.ListSessions()
	if err != nil {
		return
	}
	SessionsTotal.Set(float64(len(sessions)))
}

func (c *Collector) collectTapeGroupMetrics() {
	groups, err := c.manager.ListTapeGroups()
	if err != nil {
		return
	}
	TapeGroupsTotal.Set(float64(len(groups)))
}

func (c *Collector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if servers, err := c.manager.GetClusterServers(); err == nil {
		RaftPeers.Set(float64(len(servers)))
	}
}
