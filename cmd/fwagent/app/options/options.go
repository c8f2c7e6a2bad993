package options

import (
	"errors"
	"os"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/fwagent/internal/agent"
	"github.com/autopeer-io/fwagent/pkg/app"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// AgentOptions is the full option surface of the fwagent command.
type AgentOptions struct {
	// DeviceID identifies this device towards the fleet backend. Derived
	// from the hostname when empty.
	DeviceID string `json:"device-id" mapstructure:"device-id"`

	// StateDir holds the version bookkeeping and reboot marker.
	StateDir string `json:"state-dir" mapstructure:"state-dir"`

	// PackagesFile is the installed package manifest, "name version" lines.
	PackagesFile string `json:"packages-file" mapstructure:"packages-file"`

	// InstallDevice is the device node or file the image is written to.
	InstallDevice string `json:"install-device" mapstructure:"install-device"`

	MqttOptions *options.MqttOptions `json:"mqtt" mapstructure:"mqtt"`
	S3Options   *options.S3Options   `json:"s3" mapstructure:"s3"`
	HttpOptions *options.HttpOptions `json:"http" mapstructure:"http"`
	Log         *log.Options         `json:"log" mapstructure:"log"`
}

var _ app.Options = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		StateDir:      "/var/lib/fwagent",
		InstallDevice: "/dev/update",
		MqttOptions:   options.NewMqttOptions(),
		S3Options:     options.NewS3Options(),
		HttpOptions:   options.NewHttpOptions(),
		Log:           log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() app.NamedFlagSets {
	fss := app.NamedFlagSets{}
	o.addAgentFlags(fss.FlagSet("agent"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) addAgentFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.DeviceID, "device-id", o.DeviceID, "Device identity towards the fleet backend (defaults to the hostname).")
	fs.StringVar(&o.StateDir, "state-dir", o.StateDir, "Directory for version bookkeeping and the reboot marker.")
	fs.StringVar(&o.PackagesFile, "packages-file", o.PackagesFile, "Installed package manifest, one \"name version\" pair per line.")
	fs.StringVar(&o.InstallDevice, "install-device", o.InstallDevice, "Device node or file the firmware image is written to.")
}

func (o *AgentOptions) Complete() error {
	if o.DeviceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return err
		}
		o.DeviceID = hostname
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	var errs []error
	if o.StateDir == "" {
		errs = append(errs, errors.New("state-dir must not be empty"))
	}
	if o.InstallDevice == "" {
		errs = append(errs, errors.New("install-device must not be empty"))
	}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return errors.Join(errs...)
}

// LogOptions exposes the logging options for initialization by pkg/app.
func (o *AgentOptions) LogOptions() *log.Options {
	return o.Log
}

// Config builds the agent assembly configuration.
func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		DeviceID:      o.DeviceID,
		StateDir:      o.StateDir,
		PackagesFile:  o.PackagesFile,
		InstallDevice: o.InstallDevice,
		MqttOptions:   o.MqttOptions,
		S3Options:     o.S3Options,
		HttpOptions:   o.HttpOptions,
	}, nil
}
