package metrics

import "time"

// BeadSource is satisfied by anything that can report how many beads sit in
// each lifecycle state. pkg/scheduler.Scheduler implements this structurally
// so this package never has to import it (that import would run the other
// way: scheduler already depends on metrics for SchedulingLatency).
type BeadSource interface {
	BeadCountsByState() map[string]int
}

// Collector periodically samples a BeadSource and updates the BeadsTotal
// gauge. Adapted from the teacher's ticker-driven metrics collector, which
// polled the cluster manager for node/service/container counts on the same
// cadence.
type Collector struct {
	source BeadSource
	stopCh chan struct{}
}

// NewCollector creates a metrics collector sampling source.
func NewCollector(source BeadSource) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins periodic collection on a 15s cadence, the same interval the
// teacher used for cluster metrics.
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

// Stop halts periodic collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.source == nil {
		return
	}
	counts := c.source.BeadCountsByState()
	for state, n := range counts {
		BeadsTotal.WithLabelValues(state).Set(float64(n))
	}
}
