// Package fleet exposes device read views and registration.
//
// Reachability comes from the health monitor in core/audit; a device that has
// not been probed yet reports reachable as null.
//
// # HTTP Endpoints
//
//   - GET /devices : List devices with last_seen and reachability.
//   - GET /devices/:id : One device.
//   - POST /devices/:id/probe : Probe the device now.
package fleet
