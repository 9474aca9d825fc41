/*
Package autoheal executes guarded remediation playbooks.

Heal validates the scenario against a closed set and type-checks the
context through a declared schema (numeric ranges, string patterns, enum
values); unknown context keys are dropped with a warning. Playbook
selection tries a direct scenario match, then the first playbook in
declaration order whose condition expression holds. Conditions are
restricted to "<identifier> <op> <number>" and evaluate to false on any
malformed input.

Every instantiated command passes the sanitizer before execution: a small
literal allowlist first, then a shell-metacharacter deny list. Actions run
strictly in order and the playbook stops at the first failure. Each heal
produces a monotonic incident ID and a markdown incident report.
*/
package autoheal
