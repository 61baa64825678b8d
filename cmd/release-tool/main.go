package main

import "github.com/oshokin/app-updater/cmd/release-tool/cmd"

func main() {
	cmd.Execute()
}
