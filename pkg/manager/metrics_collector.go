package manager

import (
	"time"

	"github.com/suncumby/drms/pkg/metrics"
	"github.com/suncumby/drms/pkg/types"
)

// MetricsCollector periodically snapshots a manager's storage-unit,
// session, and Raft state into the Prometheus gauges in pkg/metrics.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector for mgr.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *MetricsCollector) Start() {
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

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectStorageUnitMetrics()
	c.collectSessionMetrics()
	c.collectTapeGroupMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectStorageUnitMetrics() {
	units, err := c.manager.store.ListStorageUnits()
	if err != nil {
		return
	}

	counts := make(map[types.SUMode]int)
	for _, su := range units {
		counts[su.Mode]++
	}
	for mode, count := range counts {
		metrics.StorageUnitsTotal.WithLabelValues(string(mode)).Set(float64(count))
	}
}

func (c *MetricsCollector) collectSessionMetrics() {
	sessions, err := c.manager.store.ListSessions()
	if err != nil {
		return
	}
	metrics.SessionsTotal.Set(float64(len(sessions)))
}

func (c *MetricsCollector) collectTapeGroupMetrics() {
	groups, err := c.manager.store.ListTapeGroups()
	if err != nil {
		return
	}
	metrics.TapeGroupsTotal.Set(float64(len(groups)))
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.manager.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.manager.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
