package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"procshell/internal/config"
	"procshell/internal/logging"
	"procshell/internal/repl"
)

var (
	cfgPath     string
	commandLine string

	// fsys is where the configuration file is read from.
	fsys = afero.NewOsFs()

	// exitStatus is the process status once the command returns.
	exitStatus int
)

func loadConfig() (*config.Configuration, error) {
	configuration, err := config.Load(fsys, cfgPath)
	if err != nil {
		return nil, err
	}
	if err := configuration.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := configuration.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return configuration, nil
}

// noInput is the line reader for -c: there is nothing to read.
type noInput struct{}

func (noInput) ReadLine() (string, error) {
	return "", io.EOF
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "procshell",
	Short: "A small interactive shell",
	Long: `procshell reads command lines and runs them in the foreground or, when the
line contains a lone &, in the background. Finished background commands are
reported before the next prompt. On exit the whole process group is signalled.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
		if err != nil {
			return err
		}
		defer log.Sync()

		opts := repl.Options{
			Stdin:  os.Stdin,
			Stdout: cmd.OutOrStdout(),
			Stderr: cmd.ErrOrStderr(),
			Log:    log,
		}
		oneShot := cmd.Flags().Changed("command")
		if oneShot {
			opts.Reader = noInput{}
		}

		shell, err := repl.NewFromConfig(cfg, opts)
		if err != nil {
			return err
		}
		if oneShot {
			shell.Eval(commandLine)
			exitStatus = shell.Shutdown()
			return nil
		}
		exitStatus = shell.Run()
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(2)
	}
	os.Exit(exitStatus)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "directory holding "+config.ConfigurationName)
	rootCmd.Flags().StringVarP(&commandLine, "command", "c", "", "run one command line and exit")
}
