// conditions tracks which subjects satisfy declared conditions and fires
// the actions due at each point of a condition's lifecycle.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/roach88/conditions/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI with args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	root := cli.NewRootCommand()
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "conditions: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
