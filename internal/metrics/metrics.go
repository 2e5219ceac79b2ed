// Package metrics exposes operational gauges and counters as a
// prometheus.Collector that queries live components at scrape time.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SessionCountProvider exposes the number of running call sessions.
type SessionCountProvider interface {
	ActiveSessions() int
}

// ParkingProvider exposes valet parking occupancy and presence publishing
// counters.
type ParkingProvider interface {
	OccupiedSlotCount() int
	NotifiesSent() uint64
}

// FeedStatsProvider exposes event feed connection statistics.
type FeedStatsProvider interface {
	Reconnects() uint64
}

// CallRouteCounter returns call record counts grouped by routing class.
type CallRouteCounter interface {
	CountByRoute(ctx context.Context) (map[string]int, error)
}

// Collector is a prometheus.Collector that gathers switch-control metrics
// at scrape time.
type Collector struct {
	sessions  SessionCountProvider
	parking   ParkingProvider
	feed      FeedStatsProvider
	calls     CallRouteCounter
	startTime time.Time

	// Metric descriptors.
	activeSessionsDesc *prometheus.Desc
	parkedCallsDesc    *prometheus.Desc
	notifiesDesc       *prometheus.Desc
	reconnectsDesc     *prometheus.Desc
	callsTotalDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(
	sessions SessionCountProvider,
	parking ParkingProvider,
	feed FeedStatsProvider,
	calls CallRouteCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:  sessions,
		parking:   parking,
		feed:      feed,
		calls:     calls,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"fsec2_active_sessions",
			"Number of call-control sessions currently running",
			nil, nil,
		),
		parkedCallsDesc: prometheus.NewDesc(
			"fsec2_parked_calls",
			"Number of valet parking slots currently occupied",
			nil, nil,
		),
		notifiesDesc: prometheus.NewDesc(
			"fsec2_presence_notifies_total",
			"Total presence NOTIFY messages sent to the proxy",
			nil, nil,
		),
		reconnectsDesc: prometheus.NewDesc(
			"fsec2_feed_reconnects_total",
			"Times the system event feed connection was re-established",
			nil, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"fsec2_calls_total",
			"Total calls handled, from call history",
			[]string{"route"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"fsec2_uptime_seconds",
			"Seconds since the process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.parkedCallsDesc
	ch <- c.notifiesDesc
	ch <- c.reconnectsDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.ActiveSessions()),
		)
	}

	if c.parking != nil {
		ch <- prometheus.MustNewConstMetric(
			c.parkedCallsDesc, prometheus.GaugeValue,
			float64(c.parking.OccupiedSlotCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.notifiesDesc, prometheus.CounterValue,
			float64(c.parking.NotifiesSent()),
		)
	}

	if c.feed != nil {
		ch <- prometheus.MustNewConstMetric(
			c.reconnectsDesc, prometheus.CounterValue,
			float64(c.feed.Reconnects()),
		)
	}

	if c.calls != nil {
		counts, err := c.calls.CountByRoute(ctx)
		if err != nil {
			slog.Error("metrics: failed to count calls by route", "error", err)
		} else {
			for route, n := range counts {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(n), route,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
