/*
Package patch generates rule-based source rewrites for recurring issue
classes: leaked connections (wrap in try/finally), unhandled awaits (wrap
in try/catch), missing request timeouts and unbounded caches.

A pattern matches when its issue types include the reported type and at
least one keyword appears in the evidence. Detector regexes locate fixable
lines, optionally requiring context tokens within a few surrounding lines.
Changes apply in descending line order, which makes application
independent of the order changes were produced in.
*/
package patch
