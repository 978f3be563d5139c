// Package protocol implements the wire protocol shared by master, workers and clients.
//
// Every exchange uses its own TCP connection. Each payload is a JSON object with a
// "type" discriminant, prefixed by its length as a 4-byte big-endian integer.
package protocol
