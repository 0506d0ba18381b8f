package metrics

import "time"

// Instrumented is the subset of wal.Wal the collector polls. The interface
// is declared here, rather than importing pkg/wal, so that pkg/wal (which
// updates counters and histograms in this package inline on every commit,
// replay, and checkpoint) does not import its own collector's dependency.
type Instrumented interface {
	CatalogStats() (rows, tombstones int)
	SequenceRows() int
	SegmentStats() (onDisk int, currentLogID, savedLogID uint64)
}

// Collector polls gauge-shaped WAL state on an interval. Counters and
// histograms (commits, replays, checkpoints, errors) are updated inline by
// the components that observe them; Collector only handles values that have
// no natural "event" to hang an update off of.
type Collector struct {
	source Instrumented
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector for the given WAL instance.
func NewCollector(source Instrumented) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
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
	rows, tombstones := c.source.CatalogStats()
	CatalogRowsTotal.Set(float64(rows))
	CatalogTombstonesTotal.Set(float64(tombstones))

	SequenceRowsTotal.Set(float64(c.source.SequenceRows()))

	onDisk, current, saved := c.source.SegmentStats()
	SegmentsOnDisk.Set(float64(onDisk))
	CurrentLogID.Set(float64(current))
	SavedLogID.Set(float64(saved))
}
