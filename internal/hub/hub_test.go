package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/autopeer-io/fwagent/internal/updater"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

type published struct {
	topic   string
	qos     int
	retain  bool
	payload []byte
}

type fakeClient struct {
	published []published
	handlers  map[string]mqtt.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeClient) Start(ctx context.Context) error           { return nil }
func (f *fakeClient) Disconnect(ctx context.Context)            {}
func (f *fakeClient) AwaitConnection(ctx context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool                         { return true }

func (f *fakeClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	f.published = append(f.published, published{topic, qos, retain, payload})
	return nil
}

func (f *fakeClient) Subscribe(ctx context.Context, topic string, qos int, handler mqtt.MessageHandler) error {
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Unsubscribe(ctx context.Context, topic string) error {
	delete(f.handlers, topic)
	return nil
}

func TestHubDispatchesCommands(t *testing.T) {
	ctx := context.Background()
	mc := newFakeClient()

	var got Command
	h := New(mc, mqtttopic.NewBuilder("fleet/v1"), "dev-42", func(ctx context.Context, cmd Command) {
		got = cmd
	})
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	handler, ok := mc.handlers["fleet/v1/command/dev-42"]
	if !ok {
		t.Fatalf("no subscription on the command topic, handlers: %v", mc.handlers)
	}

	payload, _ := json.Marshal(Command{
		Action: ActionInstall,
		Target: updater.Target{Filename: "core-image.swu", Length: 64},
	})
	handler(ctx, "fleet/v1/command/dev-42", payload)

	if got.Action != ActionInstall || got.Target.Filename != "core-image.swu" {
		t.Fatalf("dispatched command = %+v, want install core-image.swu", got)
	}

	// Malformed payloads are dropped, not dispatched.
	got = Command{}
	handler(ctx, "fleet/v1/command/dev-42", []byte("{not json"))
	if got.Action != "" {
		t.Fatalf("malformed payload dispatched as %+v", got)
	}
}

func TestHubReportOutcome(t *testing.T) {
	ctx := context.Background()
	mc := newFakeClient()
	h := New(mc, mqtttopic.NewBuilder("fleet/v1"), "dev-42", nil)

	res := updater.Result{Code: updater.ResultNeedCompletion, Message: "reboot required"}
	if err := h.ReportOutcome(ctx, "core-image.swu", res); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}

	if len(mc.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(mc.published))
	}
	msg := mc.published[0]
	if msg.topic != "fleet/v1/update/status/dev-42" {
		t.Fatalf("topic = %s", msg.topic)
	}
	if msg.retain {
		t.Fatal("status messages must not be retained")
	}

	var out outcome
	if err := json.Unmarshal(msg.payload, &out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if out.DeviceID != "dev-42" || out.Code != "NeedCompletion" || out.Image != "core-image.swu" {
		t.Fatalf("outcome payload = %+v", out)
	}
}

func TestHubRegisterRetained(t *testing.T) {
	ctx := context.Background()
	mc := newFakeClient()
	h := New(mc, mqtttopic.NewBuilder("fleet/v1"), "dev-42", nil)

	current := updater.Target{Filename: "core-image-v1.swu"}
	if err := h.Register(ctx, current, []updater.Package{{Name: "busybox", Version: "1.36.1"}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	msg := mc.published[0]
	if msg.topic != "fleet/v1/register/dev-42" {
		t.Fatalf("topic = %s", msg.topic)
	}
	if !msg.retain {
		t.Fatal("registration must be retained")
	}
}
