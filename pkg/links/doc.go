// Package links implements link resolution and the keyword
// lookup algorithm that drives it: both are modeled as a single
// iterative state machine over (current record, current keyword name,
// depth), never recursion, so the cycle guard is one integer comparison
// against a fixed maximum depth.
package links
