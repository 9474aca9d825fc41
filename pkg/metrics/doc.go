/*
Package metrics exposes Warden's Prometheus collectors.

Collectors are package-level variables registered in init() and updated
directly by the owning components (alert pipeline, pool, executor, deploy
manager, orchestrator). Serve exposes /metrics on a dedicated address.
*/
package metrics
