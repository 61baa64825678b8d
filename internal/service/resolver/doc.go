// Package resolver computes the next release version.
//
// The base is the latest vX.Y.Z tag of the repository (or an explicit current
// version). The bump is either given explicitly or detected from the commits
// made since that tag: breaking changes bump the major part, features the
// minor part and everything else the patch part. The result is always
// strictly greater than the base.
package resolver
