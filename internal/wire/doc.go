// Package wire implements SiriDB's package framing: the fixed 8-byte header
// plus self-describing msgpack body that every request, response, and
// replication record uses on the wire (spec §6).
//
// The grammar/parser that produces query ASTs, and the HTTP health/admin
// surface, are explicitly out of scope (spec §1) — this package only owns
// the envelope, not what's inside a query or insert body beyond its type
// tag.
package wire
