/*
Package report renders Warden's markdown reports.

Incident reports document one heal invocation: status, per-action sections
with stdout and stderr, and a manual-intervention note on failure. Daily
and weekly operations reports summarize system health, incidents and log
analysis with emoji-marked recommendations. Renderers are pure functions
over their input data; Writer adds filesystem persistence.
*/
package report
