// Package reconcile converges device lists onto the canonical allow list.
//
// Reconciliation is anti-entropy: read what a device holds, compare it with the
// canonical store, and push corrections. There is no transaction spanning the
// store and a device, so every pass returns an Outcome describing exactly what
// was written, what failed (with the device's own status text) and what was
// never attempted.
//
// # Modes
//
//   - Diff / Apply: plan the upserts (and, with DoPrune, removals) one device
//     needs, then execute them. Apply writes only with Confirmed and without DryRun.
//   - Repair: upsert one subject on a set of devices, one device at a time.
//   - Resync: clear a device and repopulate it from the canonical store. The
//     device is exposed until the pass completes; cancellation and mid-way
//     failures are reported through Remaining and Status.
//   - ResyncBatch: Resync several devices concurrently, isolated per device.
//
// # Device Discipline
//
// Writes to one device are serialized through a per-device lock and separated by
// WriteDelayMs so embedded controllers are not overwhelmed. Different devices
// proceed in parallel.
package reconcile
