// Package utils provides small helpers shared across packages: loose type
// conversion for device JSON payloads and license plate normalization.
package utils
