// Package storage archives incidents and deployments in an embedded
// bbolt database. Records are keyed chronologically so recent listings
// and time-window queries are cursor scans.
package storage
