/*
Package sshpool maintains reusable SSH connections for the remote executor
and the deploy manager.

The pool owns its entries exclusively: callers borrow a client for one
command via Acquire and must return it with Release. Entries are keyed by
lowercased host name, at most one entry exists per host, and the pool never
grows past MaxConnections. A background sweep evicts connections idle for
longer than IdleTimeout; CloseAll stops the sweep and tears everything down.

Lifecycle events (connected, closed, error) are published on the injected
events.Broker. They are advisory hooks for logging and metrics; nothing in
the pool's correctness depends on their delivery.
*/
package sshpool
