package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/fwagent/cmd/fwagent/app/options"
	"github.com/autopeer-io/fwagent/internal/updater"
	"github.com/autopeer-io/fwagent/pkg/app"
)

const (
	commandName = "fwagent"
	commandDesc = `The fwagent daemon keeps a device's firmware in sync with the fleet
backend: it streams update images into the flashing engine, verifies
them in transit, arms the reboot that applies them and confirms the
booted image afterwards.

Run without a subcommand it starts the long-running agent. The
subcommands drive single update steps for provisioning and debugging.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	return app.NewApp(
		commandName,
		"Launch the firmware update agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithRunFunc(run(opts)),
		app.WithSubcommands(
			newInstallCmd(opts),
			newCompleteCmd(opts),
			newFinalizeCmd(opts),
			newPackagesCmd(opts),
			newSimulateCmd(opts),
		),
	)
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		ctx := signalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}

// signalContext cancels on SIGINT/SIGTERM; a second signal kills outright.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}

// targetFlags binds the flags describing one install target.
func targetFlags(cmd *cobra.Command, target *updater.Target, digest *string) {
	cmd.Flags().StringVar(&target.Filename, "filename", "", "Artifact name of the image.")
	cmd.Flags().StringVar(&target.URI, "uri", "", "Image location (http(s):// or s3://).")
	cmd.Flags().Uint64Var(&target.Length, "length", 0, "Exact image size in bytes.")
	cmd.Flags().StringVar(digest, "sha256", "", "Expected sha256 digest of the image, hex encoded.")
}

func completeTarget(target *updater.Target, digest string) error {
	if target.Filename == "" || target.Length == 0 || digest == "" {
		return fmt.Errorf("--filename, --length and --sha256 are required")
	}
	target.Digests = []updater.Digest{{Alg: updater.SHA256, Value: digest}}
	return nil
}

func newInstallCmd(opts *options.AgentOptions) *cobra.Command {
	var target updater.Target
	var digest string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download and stage one firmware image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := completeTarget(&target, digest); err != nil {
				return err
			}

			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}

			res := manager.Install(signalContext(), target, updater.NewToken())
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			if res.Code == updater.ResultInstallFailed {
				return res.Cause
			}
			return nil
		},
	}
	targetFlags(cmd, &target, &digest)
	return cmd
}

func newCompleteCmd(opts *options.AgentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "complete",
		Short: "Reboot to apply the staged update",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}
			return manager.CompleteInstall()
		},
	}
}

func newFinalizeCmd(opts *options.AgentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "finalize",
		Short: "Verify the staged update after a reboot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}

			pending, ok, err := manager.Pending()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no update pending")
				return nil
			}

			res := manager.FinalizeInstall(cmd.Context(), pending)
			fmt.Fprintln(cmd.OutOrStdout(), res.String())
			if res.Code == updater.ResultInstallFailed {
				return res.Cause
			}
			return nil
		},
	}
}

func newPackagesCmd(opts *options.AgentOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List the installed package manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return err
			}
			manager, err := cfg.NewManager()
			if err != nil {
				return err
			}

			pkgs, err := manager.InstalledPackages()
			if err != nil {
				return err
			}

			table := uitable.New()
			table.MaxColWidth = 60
			table.AddRow("NAME", "VERSION")
			for _, p := range pkgs {
				table.AddRow(p.Name, p.Version)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}
