// Package metrics exposes search counters as Prometheus collectors. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keyhunt"

// Collector groups the per-device search metrics.
type Collector struct {
	launches      prometheus.Counter
	keysChecked   prometheus.Counter
	hits          prometheus.Counter
	dropped       prometheus.Counter
	rejected      prometheus.Counter
	launchSeconds prometheus.Histogram
}

// New creates the collectors for one device and registers them on reg.
func New(reg prometheus.Registerer, device string) (*Collector, error) {
	labels := prometheus.Labels{"device": device}
	c := &Collector{
		launches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "launches_total",
			Help:        "Kernel launches completed.",
			ConstLabels: labels,
		}),
		keysChecked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "keys_checked_total",
			Help:        "Candidate keys evaluated by kernels.",
			ConstLabels: labels,
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "hits_total",
			Help:        "Items returned by kernels.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "dropped_total",
			Help:        "Items lost to a full output buffer.",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "rejected_total",
			Help:        "Items that failed host verification.",
			ConstLabels: labels,
		}),
		launchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "launch_seconds",
			Help:        "Wall time of a launch including transfers.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	for _, col := range []prometheus.Collector{
		c.launches, c.keysChecked, c.hits, c.dropped, c.rejected, c.launchSeconds,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveLaunch records one completed launch.
func (c *Collector) ObserveLaunch(d time.Duration, keys uint64, found, dropped int) {
	if c == nil {
		return
	}
	c.launches.Inc()
	c.keysChecked.Add(float64(keys))
	c.hits.Add(float64(found))
	c.dropped.Add(float64(dropped))
	c.launchSeconds.Observe(d.Seconds())
}

// Reject records an item that did not survive host verification.
func (c *Collector) Reject() {
	if c == nil {
		return
	}
	c.rejected.Inc()
}
