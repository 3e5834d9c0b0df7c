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

type requestKey struct {
	handler string
	method  string
	code    string
}

type errorKey struct {
	handler string
	method  string
}

type latencyKey struct {
	handler string
	method  string
}

type toolKey struct {
	tool    string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type collector struct {
	mu           sync.Mutex
	requests     map[requestKey]uint64
	errors       map[errorKey]uint64
	latency      map[latencyKey]*histogram
	toolRuns     map[toolKey]uint64
	toolDuration map[string]*histogram
}

var httpCollector = &collector{
	requests:     make(map[requestKey]uint64),
	errors:       make(map[errorKey]uint64),
	latency:      make(map[latencyKey]*histogram),
	toolRuns:     make(map[toolKey]uint64),
	toolDuration: make(map[string]*histogram),
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpCollector.observe(handler, method, status, duration)
}

// ObserveToolExecution records a sandboxed tool invocation and its outcome.
func ObserveToolExecution(tool, outcome string, duration time.Duration) {
	httpCollector.observeTool(tool, outcome, duration)
}

func (c *collector) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKey := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	c.requests[reqKey]++
	if status >= 500 {
		errKey := errorKey{handler: handler, method: method}
		c.errors[errKey]++
	}

	latKey := latencyKey{handler: handler, method: method}
	hist := c.latency[latKey]
	if hist == nil {
		hist = newHistogram()
		c.latency[latKey] = hist
	}
	hist.observe(duration.Seconds())
}

func (c *collector) observeTool(tool, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toolRuns[toolKey{tool: tool, outcome: outcome}]++
	hist := c.toolDuration[tool]
	if hist == nil {
		hist = newHistogram()
		c.toolDuration[tool] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			break
		}
	}
	// Values greater than the last bucket are accounted for in the +Inf bucket via h.count.
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, httpCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	type requestMetric struct {
		requestKey
		value uint64
	}
	type errorMetric struct {
		errorKey
		value uint64
	}
	type latencyMetric struct {
		latencyKey
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}
	type toolMetric struct {
		toolKey
		value uint64
	}
	type toolLatencyMetric struct {
		tool    string
		buckets []float64
		counts  []uint64
		sum     float64
		count   uint64
	}

	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	errs := make([]errorMetric, 0, len(c.errors))
	for key, value := range c.errors {
		errs = append(errs, errorMetric{errorKey: key, value: value})
	}
	lats := make([]latencyMetric, 0, len(c.latency))
	for key, hist := range c.latency {
		lats = append(lats, latencyMetric{
			latencyKey: key,
			buckets:    append([]float64(nil), hist.buckets...),
			counts:     append([]uint64(nil), hist.counts...),
			sum:        hist.sum,
			count:      hist.count,
		})
	}
	tools := make([]toolMetric, 0, len(c.toolRuns))
	for key, value := range c.toolRuns {
		tools = append(tools, toolMetric{toolKey: key, value: value})
	}
	toolLats := make([]toolLatencyMetric, 0, len(c.toolDuration))
	for tool, hist := range c.toolDuration {
		toolLats = append(toolLats, toolLatencyMetric{
			tool:    tool,
			buckets: append([]float64(nil), hist.buckets...),
			counts:  append([]uint64(nil), hist.counts...),
			sum:     hist.sum,
			count:   hist.count,
		})
	}

	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler == reqs[j].handler {
			if reqs[i].method == reqs[j].method {
				return reqs[i].code < reqs[j].code
			}
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].handler < reqs[j].handler
	})
	sort.Slice(errs, func(i, j int) bool {
		if errs[i].handler == errs[j].handler {
			return errs[i].method < errs[j].method
		}
		return errs[i].handler < errs[j].handler
	})
	sort.Slice(lats, func(i, j int) bool {
		if lats[i].handler == lats[j].handler {
			return lats[i].method < lats[j].method
		}
		return lats[i].handler < lats[j].handler
	})
	sort.Slice(tools, func(i, j int) bool {
		if tools[i].tool == tools[j].tool {
			return tools[i].outcome < tools[j].outcome
		}
		return tools[i].tool < tools[j].tool
	})
	sort.Slice(toolLats, func(i, j int) bool {
		return toolLats[i].tool < toolLats[j].tool
	})

	var builder strings.Builder
	builder.Grow(1024)

	builder.WriteString("# HELP edgeagent_http_requests_total Total number of HTTP requests processed.\n")
	builder.WriteString("# TYPE edgeagent_http_requests_total counter\n")
	for _, metric := range reqs {
		builder.WriteString(fmt.Sprintf("edgeagent_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), escape(metric.code), metric.value))
	}

	builder.WriteString("# HELP edgeagent_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	builder.WriteString("# TYPE edgeagent_http_request_errors_total counter\n")
	for _, metric := range errs {
		builder.WriteString(fmt.Sprintf("edgeagent_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.value))
	}

	builder.WriteString("# HELP edgeagent_http_request_duration_seconds HTTP request duration in seconds.\n")
	builder.WriteString("# TYPE edgeagent_http_request_duration_seconds histogram\n")
	for _, metric := range lats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("edgeagent_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"%s\"} %d\n",
				escape(metric.handler), escape(metric.method), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("edgeagent_http_request_duration_seconds_bucket{handler=\"%s\",method=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
		builder.WriteString(fmt.Sprintf("edgeagent_http_request_duration_seconds_sum{handler=\"%s\",method=\"%s\"} %s\n",
			escape(metric.handler), escape(metric.method), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("edgeagent_http_request_duration_seconds_count{handler=\"%s\",method=\"%s\"} %d\n",
			escape(metric.handler), escape(metric.method), metric.count))
	}

	builder.WriteString("# HELP edgeagent_tool_executions_total Total number of sandboxed tool executions by outcome.\n")
	builder.WriteString("# TYPE edgeagent_tool_executions_total counter\n")
	for _, metric := range tools {
		builder.WriteString(fmt.Sprintf("edgeagent_tool_executions_total{tool=\"%s\",outcome=\"%s\"} %d\n",
			escape(metric.tool), escape(metric.outcome), metric.value))
	}

	builder.WriteString("# HELP edgeagent_tool_execution_duration_seconds Sandboxed tool execution duration in seconds.\n")
	builder.WriteString("# TYPE edgeagent_tool_execution_duration_seconds histogram\n")
	for _, metric := range toolLats {
		for idx, bound := range metric.buckets {
			builder.WriteString(fmt.Sprintf("edgeagent_tool_execution_duration_seconds_bucket{tool=\"%s\",le=\"%s\"} %d\n",
				escape(metric.tool), formatFloat(bound), metric.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf("edgeagent_tool_execution_duration_seconds_bucket{tool=\"%s\",le=\"+Inf\"} %d\n",
			escape(metric.tool), metric.count))
		builder.WriteString(fmt.Sprintf("edgeagent_tool_execution_duration_seconds_sum{tool=\"%s\"} %s\n",
			escape(metric.tool), formatFloat(metric.sum)))
		builder.WriteString(fmt.Sprintf("edgeagent_tool_execution_duration_seconds_count{tool=\"%s\"} %d\n",
			escape(metric.tool), metric.count))
	}

	return builder.String()
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

	srv := &http.Server{Addr: addr, Handler: mux}
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
