/*
Package orchestrator schedules the automation loop.

A heartbeat ticker wakes the scheduler; every due task runs concurrently
on that tick, with panics and errors isolated per task. Periodic tasks
run on fixed intervals (metrics, log scans, alert evaluation); the daily
report fires once per calendar day at its configured hour and the weekly
report on Mondays with at least six days between runs.
*/
package orchestrator
