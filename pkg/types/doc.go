/*
Package types defines the shared data model for Warden.

Hosts, execution results, metrics snapshots, alerts, playbooks, incidents,
patches and deployments all live here so that components exchange plain
values instead of importing each other. Enum-like fields use typed string
constants (AlertLevel, DeployStrategy, StageStatus) following the same
convention throughout.

The package also carries the platform command table consumed by metric and
state-snapshot collaborators; see CommandsForPlatform.
*/
package types
