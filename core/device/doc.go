// Package device is the protocol client for one LPR edge device.
//
// A Client wraps the device's JSON list API: paged search (FetchAll), single
// entry add (Upsert) and delete (Remove), and the destructive ClearAll. Every
// call is a single HTTP request bounded by a connect timeout and an overall
// timeout; nothing is retried here.
//
// Failures are returned as *Error values that match ErrUnreachable (transport,
// timeout) or ErrRejected (the device answered with a non-success status) via
// errors.Is. The device's statusString, subStatusCode and errorMsg are carried
// verbatim so operators see what the device actually said.
//
// Authentication is basic or digest (github.com/icholy/digest) per device.
// Credentials travel only in headers and never appear in errors.
package device
