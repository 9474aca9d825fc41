/*
Package alerts implements the threshold-evaluation and dispatch pipeline.

Process turns a metrics snapshot into alerts in a fixed evaluation order
(cpu, memory, disk per mount, healthchecks) so that dedup keys stay stable
between runs. A rolling window suppresses repeat emissions of the same
(metric, level) pair.

Handle dispatches side effects: every alert is logged, critical alerts are
notified, ticketing is delegated to the injected Ticketer, and auto-heal
eligible alerts spawn the configured HealTrigger without awaiting it.
Ticketing and notification failures are logged and swallowed; the pipeline
never fails because a collaborator did.
*/
package alerts
