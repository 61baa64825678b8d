// Package signing signs and verifies application executables.
//
// A signature is a small JSON envelope stored next to the executable as
// "<executable>.sig". The signed message is the BLAKE2s-256 digest of the
// file, followed by its length and the signing time as little-endian uint64.
// Keys are raw ed25519 keys wrapped in PEM blocks and are identified by their
// thumbprint: the upper-case hex SHA-1 of the public key.
package signing
