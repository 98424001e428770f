/*
Package health runs named liveness checks for shadowfs's Metadata Index
and storage backends (component J).

	checker, _ := health.NewChecker(&health.Config{
		Enabled:       cfg.Health.Enabled,
		CheckInterval: cfg.Health.CheckInterval,
		Timeout:       5 * time.Second,
	})
	checker.RegisterCheck("metadata_index", "metadata DB ping", health.CategoryCore, health.PriorityCritical,
		health.StorageCheck(index.Ping))
	checker.RegisterCheck("primary_backend", "primary storage HealthCheck", health.CategoryStorage, health.PriorityCritical,
		health.StorageCheck(primaryBackend.HealthCheck))
	for i, replica := range replicaBackends {
		checker.RegisterCheck(fmt.Sprintf("replica_%d", i), "replica storage HealthCheck", health.CategoryStorage, health.PriorityHigh,
			health.StorageCheck(replica.HealthCheck))
	}
	checker.Start(ctx)

A critical check's failure marks the aggregate Status unhealthy; any other
check's failure marks it degraded.
*/
package health
