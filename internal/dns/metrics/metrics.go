// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics aggregates per-query DNS events into Prometheus series.
// The handler emits events on a non-blocking channel; this collector is the
// channel's sole consumer, so a slow scrape can never stall the query path.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.edgegate.dev/edgegate/internal/logging"
	"go.edgegate.dev/edgegate/internal/types"
)

// Collector drains QueryMetric events into Prometheus counters/histograms.
type Collector struct {
	ch  chan types.QueryMetric
	reg *prometheus.Registry
	log *logging.Logger

	queries  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	answers  prometheus.Counter
}

// NewCollector returns a Collector with a buffered event channel of the given
// size and its own registry.
func NewCollector(buffer int) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		ch:  make(chan types.QueryMetric, buffer),
		reg: reg,
		log: logging.WithComponent("dns.metrics"),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgegate_dns_queries_total",
			Help: "DNS queries answered, by flow, response status, and rcode.",
		}, []string{"flow_id", "status", "rcode"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "edgegate_dns_query_duration_seconds",
			Help:    "Wall time from query receipt to response emit.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"flow_id"}),
		answers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgegate_dns_answer_records_total",
			Help: "Answer records returned across all responses.",
		}),
	}
	reg.MustRegister(c.queries, c.duration, c.answers)
	return c
}

// Channel is the event channel handlers emit into.
func (c *Collector) Channel() chan types.QueryMetric {
	return c.ch
}

// Run consumes events until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.ch:
			c.observe(m)
		}
	}
}

func (c *Collector) observe(m types.QueryMetric) {
	flow := strconv.FormatUint(uint64(m.FlowID), 10)
	c.queries.WithLabelValues(flow, statusLabel(m.Status), strconv.Itoa(m.Rcode)).Inc()
	c.duration.WithLabelValues(flow).Observe(float64(m.DurationMs) / 1000)
	c.answers.Add(float64(m.Answers))
}

func statusLabel(s types.ResponseStatus) string {
	switch s {
	case types.StatusHit:
		return "hit"
	case types.StatusFilter:
		return "filter"
	case types.StatusBlock:
		return "block"
	case types.StatusLocal:
		return "local"
	case types.StatusNxDomain:
		return "nxdomain"
	case types.StatusError:
		return "error"
	default:
		return "normal"
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	c.log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Gather exposes the registry's current state, for tests.
func (c *Collector) Gather() (map[string]float64, error) {
	fams, err := c.reg.Gather()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64)
	for _, fam := range fams {
		var total float64
		for _, m := range fam.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		out[fam.GetName()] = total
	}
	return out, nil
}
