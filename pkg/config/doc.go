/*
Package config defines Warden's configuration file shapes and loading.

Each concern ships its own file: monitoring sources, alert thresholds,
autoheal playbooks, the SSH fleet definition, the remote-command allowlist
and the ticketing integration. Files are JSON by default; YAML is accepted
when the extension is .yaml or .yml.

Secrets are referenced via ${VAR} environment substitution rather than
stored inline; see ExpandEnv and TicketingAuth.Resolve.

Playbooks preserve file order because condition-based playbook selection
falls back to the first matching entry in declaration order.
*/
package config
