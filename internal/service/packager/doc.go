// Package packager builds the release manifest published next to an artifact.
//
// It normalises the checksum and signing thumbprint, computes the checksum
// from the archive itself when asked to, truncates release notes and writes
// canonical JSON that clients download from the release host.
package packager
