// Package ipx drives IPX sensor devices over a shared line-oriented serial
// bus.
//
// Ownership boundary:
// - the fixed command registry with per-command timeout policy
// - response collection with timeout-as-terminator semantics
// - command dispatch and the high-level device operations
// - calibration record parsing
package ipx
