// Package audit answers "is this subject on that device" without writing anything.
//
// The Auditor fans out list reads across devices with an errgroup; one unreachable
// device only marks its own row. Device lists can be cached for a short TTL and
// concurrent reads of the same device are collapsed with singleflight.
//
// The Monitor reuses the cheapest read (a one-entry search) as a periodic health
// probe and keeps the last result per device in memory.
package audit
