// Package progress defines the event stream emitted while a harvest runs
// and the hub that fans events out to sinks.
package progress
