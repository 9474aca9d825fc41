/*
Package executor runs commands across the SSH fleet.

Execute resolves targets (group names expand to their members, anything
else is a single host), applies the command policy before any connection
is dialed, and fans out per-target either sequentially or in parallel.
Per-target failures are recorded in the batch result and never abort peer
targets.

The policy layers a literal allowlist over a hard-deny regex table.
Approval-gated commands are recorded and denied by default; an injected
ApprovalFunc may flip the decision. Every invocation lands in a bounded
audit ring; Status returns the latest entries.
*/
package executor
