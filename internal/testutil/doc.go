// Package testutil contains helpers shared across package tests to reduce
// boilerplate when observing message traffic. The Recorder captures delivered
// messages with arrival times so routing, ordering and pacing assertions read
// the same in every package. Not intended for production usage.
package testutil
