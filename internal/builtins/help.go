package builtins

import (
	"fmt"

	"github.com/pborman/getopt/v2"
)

// Help lists every builtin, or describes the named ones.
func Help(env *Env, args []string) int {
	opts := getopt.New()
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")
	w := env.stdout()

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		if err != nil {
			fmt.Fprintln(env.stderr(), err)
		}
		fmt.Fprintln(w, "usage: help [NAME...]")
		opts.PrintOptions(w)
		if err != nil {
			return 2
		}
		return 0
	}

	if names := opts.Args(); len(names) > 0 {
		status := 0
		for _, name := range names {
			e, ok := all[name]
			if !ok {
				fmt.Fprintf(env.stderr(), "help: no help topics match %q\n", name)
				status = 1
				continue
			}
			fmt.Fprintf(w, "%s: %s\n", name, e.short)
		}
		return status
	}

	fmt.Fprintln(w, "These commands are run by the shell itself.")
	fmt.Fprintln(w, "Anything else is run as a program found on PATH; end a line with & to run it in the background.")
	fmt.Fprintln(w)
	for _, name := range Names() {
		fmt.Fprintf(w, "  %-10s %s\n", name, all[name].short)
	}
	return 0
}
