// Package server wires every internal package into one running
// siridb-server process: an accept loop hands each connection to its own
// goroutine, which reads packages and runs each request inline, while the
// periodic background tasks run on goroutines started by Context.Run. A
// bounded WorkerPool is built on Context.Workers, but no code path submits
// work to it.
package server
