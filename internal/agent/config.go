package agent

import (
	"fmt"

	"github.com/autopeer-io/fwagent/internal/bootloader"
	"github.com/autopeer-io/fwagent/internal/engine"
	"github.com/autopeer-io/fwagent/internal/fetcher"
	"github.com/autopeer-io/fwagent/internal/hub"
	"github.com/autopeer-io/fwagent/internal/server"
	"github.com/autopeer-io/fwagent/internal/storage"
	"github.com/autopeer-io/fwagent/internal/updater"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// Config carries everything needed to assemble an Agent.
type Config struct {
	DeviceID      string
	StateDir      string
	PackagesFile  string
	InstallDevice string

	MqttOptions *options.MqttOptions
	S3Options   *options.S3Options
	HttpOptions *options.HttpOptions
}

// NewManager assembles the install manager alone, for one-shot CLI
// invocations that run without the hub and HTTP surface.
func (c *Config) NewManager() (*updater.Manager, error) {
	manager, _, err := c.buildManager()
	return manager, err
}

func (c *Config) buildManager() (*updater.Manager, *updater.Bridge, error) {
	store, err := storage.NewFile(c.StateDir, c.PackagesFile)
	if err != nil {
		return nil, nil, err
	}
	boot, err := bootloader.NewFileFlag(c.StateDir)
	if err != nil {
		return nil, nil, err
	}

	fetch := &fetcher.Mux{HTTP: fetcher.NewHTTP(0)}
	if c.S3Options != nil && c.S3Options.Endpoint != "" {
		s3, err := fetcher.NewS3(c.S3Options)
		if err != nil {
			return nil, nil, err
		}
		fetch.S3 = s3
	}

	bridge := updater.NewBridge(engine.NewBlockDevice(c.InstallDevice), fetch)
	manager, err := updater.NewManager(bridge, boot, store)
	if err != nil {
		return nil, nil, err
	}
	return manager, bridge, nil
}

// NewAgent assembles the full agent: version store, bootloader seam,
// fetchers, install manager, fleet hub and the local HTTP server.
func (c *Config) NewAgent() (*Agent, error) {
	manager, bridge, err := c.buildManager()
	if err != nil {
		return nil, err
	}

	a := &Agent{
		deviceID: c.DeviceID,
		manager:  manager,
		srv:      server.NewServer(c.HttpOptions, c.DeviceID, manager),
	}

	cfg := c.MqttOptions.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("fwagent-%s", c.DeviceID)
	}
	mc, err := mqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	a.hub = hub.New(mc, mqtttopic.NewBuilder(c.MqttOptions.TopicRoot), c.DeviceID, a.handleCommand)

	// Transfer progress goes to the fleet backend as well as the gauge.
	bridge.OnProgress = a.reportProgress

	return a, nil
}
