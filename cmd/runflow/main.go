// Command runflow lists, runs and serves dependency-graph jobs.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := dispatchCommand(ctx, args, stdout, stderr)
	if err == nil {
		return 0
	}
	var ee *exitError
	if stderrors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "runflow:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "runflow:", err)
	return 1
}
