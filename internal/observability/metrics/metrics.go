// Package metrics keeps in-process counters and latency histograms and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	// Values above the last bound only show up in the +Inf bucket (h.count).
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// labels is an ordered list of label pairs, also used as a map key once
// joined.
type labels []string

func (l labels) key() string { return strings.Join(l, "\x00") }

func (l labels) render(extra ...string) string {
	pairs := append(append([]string(nil), l...), extra...)
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=\"%s\"", pairs[i], escape(pairs[i+1])))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type counterVec struct {
	name, help string
	values     map[string]uint64
	labels     map[string]labels
}

type histogramVec struct {
	name, help string
	values     map[string]*histogram
	labels     map[string]labels
}

type collector struct {
	mu         sync.Mutex
	counters   []*counterVec
	histograms []*histogramVec
}

func (c *collector) counter(name, help string) *counterVec {
	vec := &counterVec{name: name, help: help, values: map[string]uint64{}, labels: map[string]labels{}}
	c.counters = append(c.counters, vec)
	return vec
}

func (c *collector) histogram(name, help string) *histogramVec {
	vec := &histogramVec{name: name, help: help, values: map[string]*histogram{}, labels: map[string]labels{}}
	c.histograms = append(c.histograms, vec)
	return vec
}

func (c *collector) inc(vec *counterVec, l labels) {
	k := l.key()
	vec.values[k]++
	vec.labels[k] = l
}

func (c *collector) observe(vec *histogramVec, l labels, seconds float64) {
	k := l.key()
	h := vec.values[k]
	if h == nil {
		h = newHistogram()
		vec.values[k] = h
		vec.labels[k] = l
	}
	h.observe(seconds)
}

var (
	global = &collector{}

	httpRequests = global.counter("walletd_http_requests_total", "Total number of HTTP requests processed.")
	httpErrors   = global.counter("walletd_http_request_errors_total", "Total number of HTTP requests that resulted in a server error.")
	httpLatency  = global.histogram("walletd_http_request_duration_seconds", "HTTP request duration in seconds.")

	operations        = global.counter("walletd_operations_total", "Wallet operations by outcome.")
	operationDuration = global.histogram("walletd_operation_duration_seconds", "Wallet operation duration in seconds.")
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	global.mu.Lock()
	defer global.mu.Unlock()

	global.inc(httpRequests, labels{"handler", handler, "method", method, "code", strconv.Itoa(status)})
	if status >= 500 {
		global.inc(httpErrors, labels{"handler", handler, "method", method})
	}
	global.observe(httpLatency, labels{"handler", handler, "method", method}, duration.Seconds())
}

// ObserveOperation records one wallet operation. outcome is "ok" or the
// error code that ended it.
func ObserveOperation(operation, outcome string, duration time.Duration) {
	global.mu.Lock()
	defer global.mu.Unlock()

	global.inc(operations, labels{"operation", operation, "outcome", outcome})
	global.observe(operationDuration, labels{"operation", operation}, duration.Seconds())
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, global.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(2048)

	for _, vec := range c.counters {
		fmt.Fprintf(&builder, "# HELP %s %s\n# TYPE %s counter\n", vec.name, vec.help, vec.name)
		for _, k := range sortedKeys(vec.values) {
			fmt.Fprintf(&builder, "%s%s %d\n", vec.name, vec.labels[k].render(), vec.values[k])
		}
	}

	for _, vec := range c.histograms {
		fmt.Fprintf(&builder, "# HELP %s %s\n# TYPE %s histogram\n", vec.name, vec.help, vec.name)
		for _, k := range sortedKeys(vec.values) {
			h, l := vec.values[k], vec.labels[k]
			for idx, bound := range h.buckets {
				fmt.Fprintf(&builder, "%s_bucket%s %d\n", vec.name, l.render("le", formatFloat(bound)), h.counts[idx])
			}
			fmt.Fprintf(&builder, "%s_bucket%s %d\n", vec.name, l.render("le", "+Inf"), h.count)
			fmt.Fprintf(&builder, "%s_sum%s %s\n", vec.name, l.render(), formatFloat(h.sum))
			fmt.Fprintf(&builder, "%s_count%s %d\n", vec.name, l.render(), h.count)
		}
	}
	return builder.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
