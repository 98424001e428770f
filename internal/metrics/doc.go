/*
Package metrics provides Prometheus-based metrics collection for shadowfs.

# Overview

The Collector exports counters and histograms for every Filesystem Service
(G) operation, plus the Session Cache (F) dedup/cleanup outcome and open
session count. It mirrors the shape of config.MetricsConfig: Enabled and
ListenAddr come straight from the YAML/env configuration.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:    cfg.Metrics.Enabled,
		ListenAddr: cfg.Metrics.ListenAddr,
		Path:       "/metrics",
		Namespace:  "shadowfs",
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

	start := time.Now()
	f, err := service.Mknod(ctx, parent, name, uid, gid, mode)
	collector.RecordOperation("mknod", time.Since(start), 0, err == nil)

# Dedup and Session Metrics

	collector.RecordDedupHit()   // cleanup kept an object still referenced elsewhere
	collector.RecordDedupMiss()  // cleanup deleted the backend object
	collector.SetOpenSessions(openCount) // number of files currently open

# Prometheus Metrics

Counters:
  - shadowfs_operations_total{operation,status}
  - shadowfs_dedup_cleanup_total{result}
  - shadowfs_errors_total{operation}

Histograms:
  - shadowfs_operation_duration_seconds{operation}
  - shadowfs_operation_size_bytes{operation}

Gauges:
  - shadowfs_open_sessions

# HTTP Endpoints

/metrics serves Prometheus-formatted output; /debug/operations serves a
human-readable table of the same operation counters, for troubleshooting
without a Prometheus server.

# See Also

  - internal/health: health checks for the Metadata Index and storage backends
  - internal/circuit: circuit breaker wrapping S3 backend calls
  - pkg/errors: structured error taxonomy
*/
package metrics
