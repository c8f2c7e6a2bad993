// Package app provides the shared scaffolding for fwagent commands:
// a cobra command with named option groups, viper config-file binding
// and logger initialization.
package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/autopeer-io/fwagent/pkg/log"
)

// RunFunc is the main entry point of an application.
type RunFunc func() error

// Options abstracts the option struct of an application. Flags returned by
// Flags() are bound to both the command line and the config file.
type Options interface {
	// Flags returns the flag sets of the application, grouped by name.
	Flags() NamedFlagSets

	// Complete fills in any fields not set explicitly and defaulted at runtime.
	Complete() error

	// Validate checks the option values entered by the user.
	Validate() error
}

// App is a thin wrapper around a cobra root command.
type App struct {
	name        string
	brief       string
	description string

	opts Options
	run  RunFunc
	subs []*cobra.Command

	cfgFile string
	cmd     *cobra.Command
}

// Option configures an App.
type Option func(*App)

// WithDescription sets the long description of the application.
func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithOptions attaches an option struct to the application.
func WithOptions(opts Options) Option {
	return func(a *App) { a.opts = opts }
}

// WithRunFunc sets the run function of the root command.
func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.run = run }
}

// WithSubcommands attaches subcommands to the root command.
func WithSubcommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.subs = append(a.subs, cmds...) }
}

// NewApp creates an App with the given name and short description.
func NewApp(name, brief string, opts ...Option) *App {
	a := &App{
		name:  name,
		brief: brief,
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command exposes the underlying cobra command, mainly for tests.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the application and exits the process on error.
// This is the only place in the repository allowed to terminate the process.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.name,
		Short:         a.brief,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.completeOptions(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.run == nil {
				return cmd.Help()
			}
			return a.run()
		},
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "Path to the fwagent configuration file.")

	if a.opts != nil {
		fss := a.opts.Flags()
		for _, name := range fss.Order {
			cmd.PersistentFlags().AddFlagSet(fss.FlagSet(name))
		}
	}

	for _, sub := range a.subs {
		cmd.AddCommand(sub)
	}

	a.cmd = cmd
}

// completeOptions merges the config file into the flag set, then completes
// and validates the option struct. Flags set explicitly on the command line
// always win over config-file values.
func (a *App) completeOptions(flags *pflag.FlagSet) error {
	v := viper.New()

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", a.cfgFile, err)
		}
	}

	v.SetEnvPrefix(strings.ToUpper(a.name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			flagErr = err
			return
		}
		if v.IsSet(f.Name) {
			if err := flags.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				flagErr = fmt.Errorf("failed to apply config value for --%s: %w", f.Name, err)
			}
		}
	})
	if flagErr != nil {
		return flagErr
	}

	if a.opts == nil {
		return nil
	}

	if err := a.opts.Complete(); err != nil {
		return err
	}
	if err := a.opts.Validate(); err != nil {
		return err
	}

	if lo, ok := a.opts.(interface{ LogOptions() *log.Options }); ok {
		log.Init(lo.LogOptions())
	}

	return nil
}
