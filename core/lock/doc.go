// Package lock provides keyed mutual exclusion.
//
// The event ingestor holds one lock per subject while it creates list entries and
// moves presence sessions, and the reconciliation engine holds one lock per device
// while it writes to it. The local backend is an in-process keyed mutex; the redis
// backend (bsm/redislock) extends both across replicas and CLI processes, refreshing
// held leases until they are released.
package lock
