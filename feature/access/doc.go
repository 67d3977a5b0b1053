// Package access serves the canonical access list and the event history.
//
// Events are immutable apart from an operator annotation. The only way to
// delete them is Purge, which removes rows batch by batch in transactions and
// their snapshot objects afterwards; objects a crash leaves behind are found by
// SweepOrphans.
//
// # HTTP Endpoints
//
//   - GET /entries?classification= : List access list entries.
//   - GET /events?subject=&from=&to=&limit= : List events, newest first.
//   - GET /events/:id : One event.
//   - PATCH /events/:id/annotation : Set the operator note.
//   - GET /events/:id/snapshot?thumb= : Stream the snapshot image.
//   - POST /events/purge?before=&confirm= : Bulk purge.
//   - POST /snapshots/sweep?confirm= : Remove unreferenced snapshot objects.
package access
