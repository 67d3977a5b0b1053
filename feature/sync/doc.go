// Package sync exposes the presence auditor and the reconciliation engine to
// operators.
//
// Full resyncs run as background jobs that can be cancelled. A cancelled job
// still reports its outcome: the device may be cleared and partially
// repopulated, and a later repair or resync converges it.
//
// # HTTP Endpoints
//
//   - GET /sync/audit/:subject?devices=1,2 : Per-device presence of a subject.
//   - POST /sync/repair : Targeted repair of one subject.
//   - GET /sync/devices/:id/diff?prune= : Plan for one device.
//   - POST /sync/devices/:id/apply : Execute a fresh plan (needs confirmed=true).
//   - POST /sync/devices/:id/resync : Start a full resync job (202).
//   - POST /sync/resync : Batch full resync, isolated per device.
//   - GET /sync/jobs, GET /sync/jobs/:id : Job status.
//   - DELETE /sync/jobs/:id : Cancel a job.
package sync
