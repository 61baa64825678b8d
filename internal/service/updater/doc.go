// Package updater is the API the application uses to update itself.
//
// Manager answers three questions for the host: is an update available,
// begin the update, and which version is installed. Everything that happens
// inside the live process (checking, downloading, verifying and handing off)
// is driven from here; the swap itself runs in the orchestrator.
package updater
