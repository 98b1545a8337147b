/*
Package metrics provides Prometheus metrics collection and exposition for the
bead orchestrator.

Metrics are package-level variables registered with the default Prometheus
registry at init time, covering bead lifecycle counts, scheduling latency,
DAG cycle rejections, event-store/replay throughput, checkpoint create/restore
duration, idempotency hit/miss rates, reconciliation cycles, timer delivery,
and actor restarts. Handler exposes them over HTTP for scraping; Timer is a
small helper for recording operation duration to a histogram.

	timer := metrics.NewTimer()
	err := doSomething()
	timer.ObserveDuration(metrics.CheckpointCreateDuration)

Health and readiness live alongside metrics in this package (health.go)
rather than a separate one, matching the teacher's convention of keeping
operational surface area in one place.
*/
package metrics
