package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements Prometheus metrics collection for the Filesystem
// Service (G) operation set and the Session Cache (F) dedup/cleanup path.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	dedupCounter      *prometheus.CounterVec
	openSessionsGauge prometheus.Gauge
	errorCounter      *prometheus.CounterVec

	operations map[string]*OperationMetrics
	lastReset  time.Time

	server *http.Server
}

// Config represents metrics configuration, mirroring
// config.MetricsConfig plus the Prometheus registration knobs.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Path       string `yaml:"path"`
	Namespace  string `yaml:"namespace"`
}

// OperationMetrics tracks aggregate metrics for one Filesystem Service
// operation name (lookup, getattr, setattr, mkdir, mknod, unlink, rmdir,
// rename, move_file, copy_file, open, read, write, release, readdir).
type OperationMetrics struct {
	Count         int64         `json:"count"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalSize     int64         `json:"total_size"`
	Errors        int64         `json:"errors"`
	LastOperation time.Time     `json:"last_operation"`
	AvgDuration   time.Duration `json:"avg_duration"`
	AvgSize       float64       `json:"avg_size"`
}

// NewCollector creates a new metrics collector.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = &Config{
			Enabled:    true,
			ListenAddr: ":9090",
			Path:       "/metrics",
			Namespace:  "shadowfs",
		}
	}

	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	registry := prometheus.NewRegistry()
	collector := &Collector{
		config:     config,
		registry:   registry,
		operations: make(map[string]*OperationMetrics),
		lastReset:  time.Now(),
	}

	if err := collector.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Start starts the metrics HTTP endpoint.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/debug/operations", c.debugOperationsHandler)

	c.server = &http.Server{
		Addr:              c.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}

// Stop stops the metrics HTTP endpoint.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server != nil {
		return c.server.Shutdown(ctx)
	}
	return nil
}

// RecordOperation records one Filesystem Service call.
func (c *Collector) RecordOperation(operation string, duration time.Duration, size int64, success bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	om, exists := c.operations[operation]
	if !exists {
		om = &OperationMetrics{}
		c.operations[operation] = om
	}
	om.Count++
	om.TotalDuration += duration
	om.TotalSize += size
	if !success {
		om.Errors++
	}
	om.LastOperation = time.Now()
	om.AvgDuration = time.Duration(int64(om.TotalDuration) / om.Count)
	om.AvgSize = float64(om.TotalSize) / float64(om.Count)

	status := "success"
	if !success {
		status = "error"
	}
	c.operationCounter.With(prometheus.Labels{"operation": operation, "status": status}).Inc()
	c.operationDuration.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
	if size > 0 {
		c.operationSize.With(prometheus.Labels{"operation": operation}).Observe(float64(size))
	}
	if !success {
		c.errorCounter.With(prometheus.Labels{"operation": operation}).Inc()
	}
}

// RecordDedupHit records that the Session Cache's cleanup pass found a
// pending_delete object still referenced by another File (spec.md §8
// invariant 5) and skipped the backend delete.
func (c *Collector) RecordDedupHit() {
	if !c.config.Enabled {
		return
	}
	c.dedupCounter.With(prometheus.Labels{"result": "kept"}).Inc()
}

// RecordDedupMiss records that cleanup actually deleted a backend object.
func (c *Collector) RecordDedupMiss() {
	if !c.config.Enabled {
		return
	}
	c.dedupCounter.With(prometheus.Labels{"result": "deleted"}).Inc()
}

// SetOpenSessions reports the current Session Cache entry count.
func (c *Collector) SetOpenSessions(count int) {
	if !c.config.Enabled {
		return
	}
	c.openSessionsGauge.Set(float64(count))
}

// RecordError records a non-operation error (e.g. a backend HealthCheck
// failure) against operation.
func (c *Collector) RecordError(operation string, err error) {
	if !c.config.Enabled {
		return
	}
	c.errorCounter.With(prometheus.Labels{"operation": operation}).Inc()
}

// GetMetrics returns a snapshot of current operation metrics.
func (c *Collector) GetMetrics() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	operations := make(map[string]*OperationMetrics, len(c.operations))
	for k, v := range c.operations {
		copied := *v
		operations[k] = &copied
	}

	return map[string]interface{}{
		"operations": operations,
		"last_reset": c.lastReset,
		"uptime":     time.Since(c.lastReset),
	}
}

// ResetMetrics resets internal operation tracking.
func (c *Collector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.operations = make(map[string]*OperationMetrics)
	c.lastReset = time.Now()
}

func (c *Collector) initMetrics() error {
	c.operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "operations_total",
			Help:      "Total number of Filesystem Service operations",
		},
		[]string{"operation", "status"},
	)
	c.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of Filesystem Service operations in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"operation"},
	)
	c.operationSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Name:      "operation_size_bytes",
			Help:      "Size in bytes of read/write/copy operations",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20),
		},
		[]string{"operation"},
	)
	c.dedupCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "dedup_cleanup_total",
			Help:      "Session Cache cleanup outcomes, by whether the object was kept due to dedup or deleted",
		},
		[]string{"result"},
	)
	c.openSessionsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.config.Namespace,
			Name:      "open_sessions",
			Help:      "Number of files currently open in the Session Cache",
		},
	)
	c.errorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Name:      "errors_total",
			Help:      "Total number of operation errors",
		},
		[]string{"operation"},
	)

	return nil
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.operationCounter,
		c.operationDuration,
		c.operationSize,
		c.dedupCounter,
		c.openSessionsGauge,
		c.errorCounter,
	}
	for _, m := range metrics {
		if err := c.registry.Register(m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) debugOperationsHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain")
	writef := func(format string, args ...interface{}) { _, _ = fmt.Fprintf(w, format, args...) }

	writef("shadowfs operations summary\n")
	writef("============================\n\n")
	writef("uptime: %v\n", time.Since(c.lastReset))
	writef("last reset: %v\n\n", c.lastReset)

	if len(c.operations) == 0 {
		writef("no operations recorded.\n")
		return
	}

	writef("%-12s %10s %10s %14s %12s\n", "operation", "count", "errors", "avg duration", "avg size")
	for name, op := range c.operations {
		writef("%-12s %10d %10d %14v %12.0f\n", name, op.Count, op.Errors, op.AvgDuration, op.AvgSize)
	}
}
