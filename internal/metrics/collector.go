// Package metrics is a small Prometheus-compatible metrics collector. It
// renders the text exposition format without pulling in client_golang.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	prefix     string
	counters   sync.Map // key -> *Counter
	gauges     sync.Map // key -> *Gauge
	histograms sync.Map // key -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a collector whose uptime gauge is named
// <prefix>_uptime_seconds.
func NewMetricsCollector(prefix string) *MetricsCollector {
	return &MetricsCollector{prefix: prefix, startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Labels renders key/value pairs as a Prometheus label set body:
// Labels("kind", "photo") == `kind="photo"`.
func Labels(kv ...string) string {
	var parts []string
	for i := 0; i+1 < len(kv); i += 2 {
		v := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(kv[i+1])
		parts = append(parts, fmt.Sprintf(`%s="%s"`, kv[i], v))
	}
	return strings.Join(parts, ",")
}

// Counter returns or creates the counter with the given name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	actual, _ := c.counters.LoadOrStore(key, &Counter{name: name, help: help, labels: labels})
	return actual.(*Counter)
}

// Gauge returns or creates the gauge with the given name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	actual, _ := c.gauges.LoadOrStore(key, &Gauge{name: name, help: help, labels: labels})
	return actual.(*Gauge)
}

// Histogram returns or creates the histogram with the given name and labels.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	bs := append([]float64(nil), buckets...)
	sort.Float64s(bs)
	hb := make([]histBucket, len(bs))
	for i, b := range bs {
		hb[i] = histBucket{le: b}
	}
	actual, _ := c.histograms.LoadOrStore(key, &Histogram{name: name, help: help, labels: labels, buckets: hb})
	return actual.(*Histogram)
}

// sortedKeys returns the keys of m in lexical order so the output is stable.
func sortedKeys(m *sync.Map) []string {
	var keys []string
	m.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, c.Render())
	}
}

// Render returns the current metrics in Prometheus text format.
func (c *MetricsCollector) Render() string {
	var sb strings.Builder

	uptime := c.prefix + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", uptime)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", uptime)
	fmt.Fprintf(&sb, "%s %d\n\n", uptime, int64(c.Uptime().Seconds()))

	helpWritten := make(map[string]bool)
	header := func(name, help, typ string) {
		if helpWritten[name] {
			return
		}
		fmt.Fprintf(&sb, "# HELP %s %s\n", name, help)
		fmt.Fprintf(&sb, "# TYPE %s %s\n", name, typ)
		helpWritten[name] = true
	}
	sample := func(name, labels string, v int64) {
		if labels != "" {
			fmt.Fprintf(&sb, "%s{%s} %d\n", name, labels, v)
		} else {
			fmt.Fprintf(&sb, "%s %d\n", name, v)
		}
	}

	for _, k := range sortedKeys(&c.counters) {
		v, _ := c.counters.Load(k)
		ctr := v.(*Counter)
		header(ctr.name, ctr.help, "counter")
		sample(ctr.name, ctr.labels, ctr.Value())
	}
	for _, k := range sortedKeys(&c.gauges) {
		v, _ := c.gauges.Load(k)
		g := v.(*Gauge)
		header(g.name, g.help, "gauge")
		sample(g.name, g.labels, g.Value())
	}
	for _, k := range sortedKeys(&c.histograms) {
		v, _ := c.histograms.Load(k)
		h := v.(*Histogram)
		header(h.name, h.help, "histogram")

		h.mu.Lock()
		open := h.name + "_bucket{"
		if h.labels != "" {
			open += h.labels + ","
		}
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(&sb, "%sle=\"%s\"} %d\n", open, le, b.count)
		}
		if !hasInf(h.buckets) {
			fmt.Fprintf(&sb, "%sle=\"+Inf\"} %d\n", open, h.count)
		}
		sample(h.name+"_count", h.labels, h.count)
		if h.labels != "" {
			fmt.Fprintf(&sb, "%s_sum{%s} %f\n", h.name, h.labels, h.sum)
		} else {
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
		}
		h.mu.Unlock()
	}

	return sb.String()
}

func hasInf(bs []histBucket) bool {
	return len(bs) > 0 && math.IsInf(bs[len(bs)-1].le, 1)
}
