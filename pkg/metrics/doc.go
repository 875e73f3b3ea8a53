/*
Package metrics provides Prometheus instrumentation for the screening
pipeline: probe counts by terminal result, probe latency, ledger bulk update
throughput, synchronization timing and promotion counts.

Collectors are package-level and registered at init. Handler() exposes them
for scraping when a metrics endpoint is wanted; the one-shot pipeline also
works without one, the counters then only feed the end-of-run summary.
*/
package metrics
