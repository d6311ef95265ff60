package metrics

import (
	"runtime"
	"sync"
	"time"
)

// DefaultCollectInterval is how often the collector refreshes gauges.
const DefaultCollectInterval = 15 * time.Second

// Collector updates the system gauges periodically.
type Collector struct {
	metrics   *Metrics
	interval  time.Duration
	startTime time.Time
	now       func() time.Time
	ticker    *time.Ticker
	done      chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewCollector creates a new metrics collector.
func NewCollector(metrics *Metrics) *Collector {
	return NewCollectorWithInterval(metrics, DefaultCollectInterval)
}

// NewCollectorWithInterval creates a collector refreshing every interval.
// A non-positive interval selects DefaultCollectInterval.
func NewCollectorWithInterval(metrics *Metrics, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		metrics:   metrics,
		interval:  interval,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Start starts the metrics collector.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running || c.metrics == nil {
		return
	}

	c.running = true
	c.done = make(chan struct{})
	c.ticker = time.NewTicker(c.interval)

	go c.collectLoop(c.ticker, c.done)
}

// Stop stops the metrics collector.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	close(c.done)
	c.ticker.Stop()
	c.running = false
}

func (c *Collector) collectLoop(ticker *time.Ticker, done <-chan struct{}) {
	c.collect()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.collect()
		}
	}
}

// collect performs a single metrics collection.
func (c *Collector) collect() {
	c.metrics.Uptime.Set(c.now().Sub(c.startTime).Seconds())
	c.metrics.GoRoutines.Set(float64(runtime.NumGoroutine()))
}
