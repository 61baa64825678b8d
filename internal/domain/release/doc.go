// Package release contains the core domain types of the update pipeline.
//
// It defines Version (a totally ordered major.minor.patch triple), Manifest
// (the published description of one release artifact), InstallState (what is
// installed on this machine and what is pending) and the error taxonomy shared
// by every stage of the pipeline.
package release
