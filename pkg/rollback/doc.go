/*
Package rollback restores deployments from on-target backups.

Stages are reverted newest first. Each target is snapshotted (CPU,
memory, disk, process table via the platform command set), restored from
its most recent backup directory, restarted and health-checked. Partial
mode reverts only stages that did not finish cleanly. A target that
restores but fails its health recheck is unrecoverable and surfaces as a
"rolled back but unhealthy" error.

Critical operations such as database rollbacks require explicit approval
and run as dry runs unless confirmed.
*/
package rollback
