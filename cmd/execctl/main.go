package main

import (
	"os"

	"github.com/go-delve/execctl/cmd/execctl/cmds"
	"github.com/go-delve/execctl/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.ExecctlVersion.Build = Build
	}
	if err := cmds.New(false).Execute(); err != nil {
		os.Exit(1)
	}
}
