// Package xdrcodec provides generic XDR (External Data Representation)
// encoding and decoding utilities per RFC 4506.
//
// Cohesix uses this package as the stable binary layout for ticket claims
// (internal/ticket) — it is not the wire format of Secure9P itself, which
// is little-endian length-prefixed (see internal/codec). XDR gives the
// ticket payload a fixed, self-describing, implementation-independent
// encoding that the root task and every worker agree on without sharing
// Go struct layout.
//
// Key characteristics of XDR:
//   - Big-endian byte order for all multi-byte integers
//   - 4-byte alignment for all data types
//   - Variable-length data is preceded by a 4-byte length
//   - Strings and opaque data are padded to 4-byte boundaries
//
// Reference: RFC 4506 - XDR: External Data Representation Standard
// https://tools.ietf.org/html/rfc4506
package xdrcodec
