/*
Package metrics exposes Prometheus metrics for mdserver: registry size,
upload and allocation counters, publish pipeline activity, reload signal
outcomes and HTTP request statistics. Handler serves them at /metrics.
*/
package metrics
