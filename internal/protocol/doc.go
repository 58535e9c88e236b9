// Package protocol owns the IPX line-protocol parsing primitives.
//
// Ownership boundary:
// - raw line decoding and corruption detection
// - response batch and status map types
// - output format conversion
// - the communication error taxonomy
package protocol
