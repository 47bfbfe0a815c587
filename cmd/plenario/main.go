package main

import (
	"plenario/internal/cli"
	_ "plenario/internal/stages/steps"
)

// These variables are populated by the build via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cli.SetBuildInfo(version, commit, date)
	cli.Execute()
}
