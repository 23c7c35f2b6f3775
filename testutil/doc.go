// Package testutil provides in-memory fakes for the seams the hibernator
// depends on: a catalog of fabricated namespaces, a synthetic block
// source, and a fetch recorder for asserting replay order.
package testutil
