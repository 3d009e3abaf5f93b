package builtins

import (
	"fmt"
	"time"

	"github.com/pborman/getopt/v2"
)

// Jobs lists the background children still being watched.
func Jobs(env *Env, args []string) int {
	opts := getopt.New()
	pidsOnly := opts.Bool('p', "print process ids only")
	helpOpt := opts.BoolLong("help", 'h', "show help and exit")

	if err := opts.Getopt(args, nil); err != nil || *helpOpt {
		w := env.stderr()
		if err != nil {
			fmt.Fprintln(w, err)
		}
		fmt.Fprintln(w, "usage: jobs [-p]")
		fmt.Fprintln(w, "Display background commands that have not finished.")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Options:")
		opts.PrintOptions(w)
		if err != nil {
			return 2
		}
		return 0
	}

	if env.Jobs == nil {
		return 0
	}
	w := env.stdout()
	for _, job := range env.Jobs() {
		if *pidsOnly {
			fmt.Fprintln(w, job.Pid)
			continue
		}
		fmt.Fprintf(w, "[%d] %-7s %s (%s)\n", job.Pid, "Running", job.Name,
			time.Since(job.Started).Round(time.Second))
	}
	return 0
}
