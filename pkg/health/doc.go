/*
Package health provides probe primitives shared by the alert pipeline and
the deploy manager.

Checker is the common interface; HTTPChecker probes an endpoint and
ExecChecker runs a local command, both returning a Result with message and
duration. CheckWithRetries wraps any checker with fixed-backoff retry for
deploy-stage gating, and Status tracks consecutive failures for ongoing
monitoring.
*/
package health
