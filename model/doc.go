// Package model defines stable boundary types for diagnostics and reports.
//
// Nothing here takes part in the protocol: link derivation and message bytes
// are unaffected by any projection. These structs are the only types intended
// for direct JSON serialization by consumers.
package model
