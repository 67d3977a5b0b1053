// Package ingest implements the inbound event path from devices.
//
// Each notification is normalized, resolved to a device by hardware identifier,
// classified against the canonical list and recorded as an AccessEvent, moving
// the subject's presence session when an entry or exit device grants passage.
// Work on one subject is serialized through a keyed lock and a single database
// transaction; different subjects proceed in parallel.
//
// The decision is computed here from the canonical list. What the device itself
// decided is not consulted, since the two can drift until reconciliation runs.
//
// # HTTP Endpoints
//
//   - POST /events : Multipart (JSON part "event" or "anpr.json", or plain fields
//     mac/plate/timestamp/event_type, plus an image part) or JSON with a base64 image.
package ingest
