package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

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

// fakeBus records published messages and rejects any use before Start,
// like the real client does.
type fakeBus struct {
	mu        sync.Mutex
	started   bool
	early     bool
	published map[string][][]byte
}

func (b *fakeBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started = true
	return nil
}

func (b *fakeBus) Disconnect(ctx context.Context) {}

func (b *fakeBus) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		b.early = true
		return errors.New("client not started")
	}
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[topic] = append(b.published[topic], append([]byte(nil), payload...))
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, topic string, qos int, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return errors.New("client not started")
	}
	return nil
}

func (b *fakeBus) Unsubscribe(ctx context.Context, topic string) error { return nil }

func (b *fakeBus) AwaitConnection(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return errors.New("client not started")
	}
	return nil
}

func (b *fakeBus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

func (b *fakeBus) messages(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[topic]...)
}

func (b *fakeBus) publishedEarly() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.early
}

// A verdict staged before the last restart must reach the backend: the
// bus has to be connected before the pending update is finalized.
func TestRunDeliversPendingVerdict(t *testing.T) {
	payload := []byte("firmware-image")
	sum := sha256.Sum256(payload)
	target := updater.Target{
		Filename: "core-image.swu",
		Length:   uint64(len(payload)),
		URI:      "http://repo.local/core-image.swu",
		Digests:  []updater.Digest{{Alg: updater.SHA256, Value: hex.EncodeToString(sum[:])}},
	}

	store := storage.NewMemory()
	boot := bootloader.NewMock()
	if err := store.SavePendingVersion(target); err != nil {
		t.Fatalf("SavePendingVersion: %v", err)
	}
	if err := boot.UpdateNotify(); err != nil {
		t.Fatalf("UpdateNotify: %v", err)
	}
	boot.SimulateReboot("sha256", target.Digests[0].Value)

	manager, err := updater.NewManager(updater.NewBridge(&engine.Loopback{}, &fetcher.Mux{}), boot, store)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	bus := &fakeBus{}
	topics := mqtttopic.NewBuilder("fleet/v1")
	httpOpts := options.NewHttpOptions()
	httpOpts.Addr = "127.0.0.1:0"

	a := &Agent{
		deviceID: "dev-test",
		manager:  manager,
		hub:      hub.New(bus, topics, "dev-test", nil),
		srv:      server.NewServer(httpOpts, "dev-test", manager),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- a.Run(ctx) }()

	statusTopic := topics.Status("dev-test")
	deadline := time.Now().Add(5 * time.Second)
	for len(bus.messages(statusTopic)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("finalize verdict never published")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}

	if bus.publishedEarly() {
		t.Fatal("outcome published before the bus was started")
	}
	var out struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(bus.messages(statusTopic)[0], &out); err != nil {
		t.Fatalf("decode outcome: %v", err)
	}
	if out.Code != "Ok" {
		t.Fatalf("verdict code = %q, want Ok", out.Code)
	}
}
