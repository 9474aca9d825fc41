/*
Package events provides an in-process advisory event broker.

The connection pool, alert pipeline, autoheal executor and deploy manager
publish lifecycle events here for logging and metrics hooks. Delivery is
best-effort: a subscriber with a full buffer drops events, and no component
may depend on an event arriving for correctness.
*/
package events
