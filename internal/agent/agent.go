// Package agent assembles the long-running fwagent process: it finalizes a
// pending update on startup, registers with the fleet backend and serves
// install commands and the local status endpoint until stopped.
package agent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/fwagent/internal/hub"
	"github.com/autopeer-io/fwagent/internal/server"
	"github.com/autopeer-io/fwagent/internal/updater"
	"github.com/autopeer-io/fwagent/pkg/log"
)

type Agent struct {
	deviceID string

	manager *updater.Manager
	hub     *hub.Hub
	srv     *server.Server

	mu           sync.Mutex
	currentImage string
	token        *updater.Token
}

// Run executes the agent until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting fwagent", "deviceID", a.deviceID)

	// The bus must be up before a pending update from before the restart is
	// finalized, or the verdict never reaches the backend. A command racing
	// in over the fresh subscription is serialized by the manager's mutex.
	if err := a.hub.Start(ctx); err != nil {
		return err
	}
	defer a.hub.Stop()

	a.finalizePending(ctx)

	go a.register(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.srv.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.cancelTransfer()
		return nil
	})

	err := g.Wait()
	log.Info("Agent shutting down...")
	return err
}

// finalizePending runs FinalizeInstall for a version staged before the
// last restart, if any, and reports the verdict.
func (a *Agent) finalizePending(ctx context.Context) {
	pending, ok, err := a.manager.Pending()
	if err != nil {
		log.Error(err, "Reading pending version failed")
		return
	}
	if !ok {
		return
	}

	res := a.manager.FinalizeInstall(ctx, pending)
	log.Info("Finalized pending update", "image", pending.Filename, "result", res.String())
	a.report(ctx, pending.Filename, res)
}

// register announces the device with its confirmed version and packages.
func (a *Agent) register(ctx context.Context) {
	current, err := a.manager.Current()
	if err != nil {
		log.Error(err, "Reading current version failed")
	}
	packages, err := a.manager.InstalledPackages()
	if err != nil {
		log.Error(err, "Reading installed packages failed")
	}

	if err := a.hub.Register(ctx, current, packages); err != nil {
		log.Error(err, "Device registration failed")
		return
	}
	log.Info("Device registered", "deviceID", a.deviceID, "current", current.Filename)
}

// handleCommand dispatches one downstream command from the backend.
func (a *Agent) handleCommand(ctx context.Context, cmd hub.Command) {
	log.Info("Received command", "action", cmd.Action, "image", cmd.Target.Filename)

	switch cmd.Action {
	case hub.ActionInstall:
		a.runInstall(ctx, cmd.Target)
	case hub.ActionComplete:
		if err := a.manager.CompleteInstall(); err != nil {
			log.Error(err, "Reboot request failed")
		}
	case hub.ActionFinalize:
		res := a.manager.FinalizeInstall(ctx, cmd.Target)
		a.report(ctx, cmd.Target.Filename, res)
	default:
		log.Warn("Ignoring unknown command", "action", cmd.Action)
	}
}

func (a *Agent) runInstall(ctx context.Context, target updater.Target) {
	token := updater.NewToken()
	a.mu.Lock()
	a.currentImage = target.Filename
	a.token = token
	a.mu.Unlock()

	res := a.manager.Install(ctx, target, token)
	a.report(ctx, target.Filename, res)

	a.mu.Lock()
	a.token = nil
	a.mu.Unlock()
}

// cancelTransfer signals the flow-control token of a running transfer.
func (a *Agent) cancelTransfer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != nil {
		a.token.Abort()
	}
}

func (a *Agent) report(ctx context.Context, image string, res updater.Result) {
	rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := a.hub.ReportOutcome(rctx, image, res); err != nil {
		log.Error(err, "Reporting outcome failed", "image", image)
	}
}

func (a *Agent) reportProgress(percent int) {
	a.mu.Lock()
	image := a.currentImage
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.hub.ReportProgress(ctx, image, percent); err != nil {
		log.Debug("Reporting progress failed", "err", err)
	}
}

var _ server.StatusProvider = (*updater.Manager)(nil)
