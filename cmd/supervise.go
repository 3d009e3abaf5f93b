package cmd

import (
	"github.com/spf13/cobra"

	"procshell/internal/logging"
	"procshell/internal/reaper"
)

// superviseCmd is what a background command runs under in polling mode.
var superviseCmd = &cobra.Command{
	Use:                reaper.SuperviseCommand + " --interval=DURATION -- PROGRAM [ARG...]",
	Short:              "Run PROGRAM and poll it until it terminates",
	Hidden:             true,
	DisableFlagParsing: true,
	SilenceUsage:       true,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, argv, err := reaper.ParseSupervisorArgs(args)
		if err != nil {
			return err
		}
		log := logging.NewDefault()
		defer log.Sync()
		exitStatus = reaper.Supervise(argv, interval, log)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(superviseCmd)
}
