// Package testutil provides deterministic time and scheduling doubles shared by
// package tests and the scenario harness.
package testutil
