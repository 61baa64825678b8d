package main

import "github.com/oshokin/app-updater/cmd/swap-orchestrator/cmd"

func main() {
	cmd.Execute()
}
