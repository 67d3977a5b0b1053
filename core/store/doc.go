// Package store is the canonical relational state of the fleet: devices, access
// list entries, access events and presence sessions, persisted with gorm.
//
// Every failed database call is wrapped in ErrStorageFailure so callers can tell a
// canonical store outage apart from device or input errors.
package store
