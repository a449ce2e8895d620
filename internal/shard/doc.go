// Package shard implements the on-disk storage unit for one time window of
// one duration class: a fixed header, an append-only run of point blocks,
// and a trailing index pointed to by a footer (spec.md §4.3, §6).
//
// Appends only ever touch the block tail; the index and footer are written
// only on a clean Close. A Handle opened after an unclean shutdown finds a
// footer that fails its checks (the index it points at does not end where
// the footer begins, or the index bytes fail their CRC) and rebuilds the
// index by scanning blocks forward from the end of the header, discarding
// any trailing partial block.
//
// A Store is the directory-level registry mapping a shard id — duration
// class packed with a window index — to its Handle, lazily opening or
// creating shard files as writes land in windows that don't exist yet.
package shard
