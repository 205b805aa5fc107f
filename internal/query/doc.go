// Package query holds the canonical description of which slice of the admin
// user collection is displayed: search text, filters, sort and pagination.
//
// Params is an immutable value. Every setter on Store derives a new Params,
// compares it structurally with the current one, and only notifies
// subscribers when something actually changed. No network call originates
// here; consumers (the engine) decide what a change means.
package query
