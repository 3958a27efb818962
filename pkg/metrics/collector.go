package metrics

import (
	"time"

	"github.com/cuemby/warren/pkg/types"
)

// RegistrySource is the read-only view of WorkerRegistry the collector polls.
// Defined here (rather than imported) to avoid pkg/registry depending on
// pkg/metrics depending on pkg/registry.
type RegistrySource interface {
	List() []types.AgentInfo
}

// DeliverySource is the read-only view of DeliveryEngine the collector polls.
type DeliverySource interface {
	PendingCount() int
}

// DedupSource is the read-only view of DedupCache the collector polls.
type DedupSource interface {
	Len() int
}

// Collector periodically samples broker components into Prometheus gauges.
type Collector struct {
	registry RegistrySource
	delivery DeliverySource
	dedup    DedupSource
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector over the given sources.
func NewCollector(registry RegistrySource, delivery DeliverySource, dedup DedupSource) *Collector {
	return &Collector{
		registry: registry,
		delivery: delivery,
		dedup:    dedup,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics on a fixed interval.
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectWorkerMetrics()
	c.collectDeliveryMetrics()
	c.collectDedupMetrics()
}

func (c *Collector) collectWorkerMetrics() {
	if c.registry == nil {
		return
	}
	agents := c.registry.List()

	statusCounts := make(map[types.WorkerStatus]int)
	cliCounts := make(map[types.CLIKind]int)
	for _, a := range agents {
		statusCounts[a.Status]++
		cliCounts[a.CLI]++
	}
	for status, count := range statusCounts {
		WorkersTotal.WithLabelValues(string(status)).Set(float64(count))
	}
	for cli, count := range cliCounts {
		WorkersByCLI.WithLabelValues(string(cli)).Set(float64(count))
	}
}

func (c *Collector) collectDeliveryMetrics() {
	if c.delivery == nil {
		return
	}
	DeliveriesPending.Set(float64(c.delivery.PendingCount()))
}

func (c *Collector) collectDedupMetrics() {
	if c.dedup == nil {
		return
	}
	DedupCacheSize.Set(float64(c.dedup.Len()))
}
