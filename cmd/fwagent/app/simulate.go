package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/fwagent/cmd/fwagent/app/options"
	"github.com/autopeer-io/fwagent/internal/bootloader"
	"github.com/autopeer-io/fwagent/internal/engine"
	"github.com/autopeer-io/fwagent/internal/fetcher"
	"github.com/autopeer-io/fwagent/internal/storage"
	"github.com/autopeer-io/fwagent/internal/updater"
)

// newSimulateCmd runs a full update cycle in-process: install through the
// loopback engine, a simulated reboot, then finalize. Nothing on the
// system is touched; useful for validating a target descriptor and the
// path to the artifact before rolling it out.
func newSimulateCmd(opts *options.AgentOptions) *cobra.Command {
	var target updater.Target
	var digest string
	var out string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a full update cycle against an in-process engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := completeTarget(&target, digest); err != nil {
				return err
			}

			var sink io.Writer = io.Discard
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				sink = f
			}

			fetch := &fetcher.Mux{HTTP: fetcher.NewHTTP(0)}
			if opts.S3Options.Endpoint != "" {
				s3, err := fetcher.NewS3(opts.S3Options)
				if err != nil {
					return err
				}
				fetch.S3 = s3
			}

			boot := bootloader.NewMock()
			bridge := updater.NewBridge(&engine.Loopback{Sink: sink}, fetch)
			manager, err := updater.NewManager(bridge, boot, storage.NewMemory())
			if err != nil {
				return err
			}

			ctx := signalContext()
			res := manager.Install(ctx, target, updater.NewToken())
			fmt.Fprintf(cmd.OutOrStdout(), "install: %s\n", res)
			if res.Code != updater.ResultNeedCompletion {
				return res.Cause
			}

			boot.SimulateReboot(string(target.Digests[0].Alg), target.Digests[0].Value)

			res = manager.FinalizeInstall(ctx, target)
			fmt.Fprintf(cmd.OutOrStdout(), "finalize: %s\n", res)
			if res.Code == updater.ResultInstallFailed {
				return res.Cause
			}
			return nil
		},
	}
	targetFlags(cmd, &target, &digest)
	cmd.Flags().StringVar(&out, "out", "", "Write the transferred image to this file (discarded when empty).")
	return cmd
}
