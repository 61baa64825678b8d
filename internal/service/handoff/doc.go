// Package handoff passes a staged update from the running application to the
// swap orchestrator and asks the application to exit.
package handoff
