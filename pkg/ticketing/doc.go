/*
Package ticketing files and updates incident tickets in a Jira Service
Management compatible tracker.

Outbound requests share a token-bucket rate limit. 429 responses honor
Retry-After; transport errors and timeouts retry up to three times; other
client errors fail immediately. Tickets for the same metric and level
inside the dedup window reuse the open issue instead of filing a
duplicate.
*/
package ticketing
