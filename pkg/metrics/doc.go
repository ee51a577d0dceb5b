/*
Package metrics provides Prometheus metrics collection and exposition
for batsimd.

Metrics mirror model.Counters and machine state distribution. Collector
samples simulator state on a ticker into the registered gauges; Handler
exposes them over the optional -metrics-addr HTTP listener. health.go
provides a separate component healthz endpoint unrelated to Prometheus.
*/
package metrics
