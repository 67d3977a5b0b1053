// Package snapshot persists the images devices attach to events.
//
// Objects are named from the subject, the event time and a random token, and a
// JPEG thumbnail is written next to each decodable image.
package snapshot
