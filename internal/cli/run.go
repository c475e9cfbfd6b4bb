package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var errInvalidFlag = errors.New("invalid usage")

// Run is the entry point of the pixcache command. args[0] is the program
// name and args[1] the command. Returns the exit code.
func Run(ctx context.Context, out, errOut io.Writer, args []string, env map[string]string) int {
	cmds := []*Command{
		CompareCmd(env),
		ServeCmd(env, nil),
	}

	if len(args) < 2 {
		printUsage(errOut, cmds)
		return ExitError
	}
	name := args[1]
	if name == "-h" || name == "--help" || name == "help" {
		printUsage(out, cmds)
		return ExitOK
	}

	for _, cmd := range cmds {
		if cmd.Name() == name {
			return cmd.Run(ctx, NewIO(out, errOut), args[2:])
		}
	}
	fmt.Fprintln(errOut, "error: unknown command:", name)
	printUsage(errOut, cmds)
	return ExitError
}

func printUsage(w io.Writer, cmds []*Command) {
	fmt.Fprintln(w, "Usage: pixcache <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range cmds {
		fmt.Fprintln(w, cmd.HelpLine())
	}
}
