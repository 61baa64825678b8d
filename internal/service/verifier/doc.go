// Package verifier downloads a release archive and admits it to staging.
//
// The archive must first match the manifest's SHA-256 (integrity) and the
// application executable inside it must carry a detached signature from a
// trusted key (authenticity). Nothing outside the update root is touched, so
// any failure here leaves the installation exactly as it was.
package verifier
