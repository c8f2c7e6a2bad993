// Package hub connects the agent to the fleet backend over MQTT: it
// registers the device, publishes update outcomes and transfer progress,
// and dispatches downstream commands to the update manager.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopeer-io/fwagent/internal/updater"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

// Command actions understood by the agent.
const (
	ActionInstall  = "install"
	ActionComplete = "complete"
	ActionFinalize = "finalize"
)

// Command is the downstream payload on the command topic.
type Command struct {
	Action string         `json:"action"`
	Target updater.Target `json:"target,omitempty"`
}

// CommandHandler receives decoded downstream commands.
type CommandHandler func(ctx context.Context, cmd Command)

// registration is published once per connection, retained.
type registration struct {
	DeviceID string            `json:"deviceId"`
	Current  updater.Target    `json:"current"`
	Packages []updater.Package `json:"packages,omitempty"`
	Time     time.Time         `json:"time"`
}

// outcome is published on the status topic after every install or finalize
// step.
type outcome struct {
	DeviceID string    `json:"deviceId"`
	Image    string    `json:"image"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// progress is published on the progress topic during a transfer.
type progress struct {
	DeviceID string    `json:"deviceId"`
	Image    string    `json:"image"`
	Percent  int       `json:"percent"`
	Time     time.Time `json:"time"`
}

// Hub is the agent side of the fleet bus.
type Hub struct {
	deviceID string

	mc      mqtt.Client
	topics  *mqtttopic.Builder
	onCmd   CommandHandler
	log     log.Logger
}

func New(client mqtt.Client, builder *mqtttopic.Builder, deviceID string, onCmd CommandHandler) *Hub {
	return &Hub{
		deviceID: deviceID,
		mc:       client,
		topics:   builder,
		onCmd:    onCmd,
		log:      log.WithName("hub"),
	}
}

// Start connects to the broker and subscribes to the device's command
// topic. It blocks until the first connection is up or ctx expires.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.mc.Start(ctx); err != nil {
		return err
	}
	if err := h.mc.AwaitConnection(ctx); err != nil {
		return err
	}

	cmdTopic := h.topics.Command(h.deviceID)
	return h.mc.Subscribe(ctx, cmdTopic, 1, func(c context.Context, topic string, payload []byte) {
		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			h.log.Error(err, "Discarding malformed command", "topic", topic)
			return
		}
		if h.onCmd == nil {
			h.log.Warn("No command handler registered", "action", cmd.Action)
			return
		}
		h.onCmd(c, cmd)
	})
}

// Stop disconnects from the broker.
func (h *Hub) Stop() {
	h.log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.mc.Disconnect(ctx)
}

// Register announces the device with its confirmed version and package
// set. Retained, so the backend sees the latest registration immediately.
func (h *Hub) Register(ctx context.Context, current updater.Target, packages []updater.Package) error {
	return h.publish(ctx, h.topics.Register(h.deviceID), true, registration{
		DeviceID: h.deviceID,
		Current:  current,
		Packages: packages,
		Time:     time.Now().UTC(),
	})
}

// ReportOutcome publishes the result of an install or finalize step.
func (h *Hub) ReportOutcome(ctx context.Context, image string, res updater.Result) error {
	return h.publish(ctx, h.topics.Status(h.deviceID), false, outcome{
		DeviceID: h.deviceID,
		Image:    image,
		Code:     res.Code.String(),
		Message:  res.Message,
		Time:     time.Now().UTC(),
	})
}

// ReportProgress publishes transfer progress in whole percent. QoS 0: a
// lost progress sample is cheaper than queueing them behind a flaky link.
func (h *Hub) ReportProgress(ctx context.Context, image string, percent int) error {
	payload, err := json.Marshal(progress{
		DeviceID: h.deviceID,
		Image:    image,
		Percent:  percent,
		Time:     time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return h.mc.Publish(ctx, h.topics.Progress(h.deviceID), 0, false, payload)
}

func (h *Hub) publish(ctx context.Context, topic string, retain bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", topic, err)
	}
	return h.mc.Publish(ctx, topic, 1, retain, payload)
}
