package main

import (
	"fmt"
	"os"

	"github.com/teryfly/solution-discussion-client-sub000/internal/cli"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime
	cli.GitCommit = gitCommit

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
