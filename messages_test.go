package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"testing"

	"github.com/invincit/offline-cache/cache"
)

type recordingSink struct {
	payloads []json.RawMessage
}

func (s *recordingSink) Report(ctx context.Context, payload json.RawMessage) error {
	s.payloads = append(s.payloads, payload)
	return nil
}

func TestGetVersion(t *testing.T) {
	w := newTestWorker(t, newFakeNetwork(), func(c *Config) { c.Prefix = "invincit"; c.Version = "v1.2.0" })
	reply, err := w.HandleMessage(context.Background(), Message{Type: MessageGetVersion})
	if err != nil {
		t.Fatal(err)
	}
	version := reply.(VersionReply)
	if version.Version != "v1.2.0" {
		t.Fatalf("Unexpected version %q", version.Version)
	}
	if !slices.Equal(version.Caches, []string{"invincit-static-v1.2.0", "invincit-dynamic-v1.2.0"}) {
		t.Fatalf("Unexpected caches %v", version.Caches)
	}
}

func TestGetCacheStatus(t *testing.T) {
	provider := cache.NewMemCache()
	seedNamespaces(t, provider, "static-v1")
	network := newFakeNetwork()
	network.serve("/", http.StatusOK, "<html></html>")
	network.serve("/app.js", http.StatusOK, "js")
	w := newTestWorker(t, network, func(c *Config) {
		c.Cache = provider
		c.Manifest = []string{"/", "/app.js"}
		c.DisableSkipWaiting = true
	})
	if _, err := w.Install(context.Background()); err != nil {
		t.Fatal(err)
	}

	reply, err := w.HandleMessage(context.Background(), Message{Type: MessageGetCacheStatus})
	if err != nil {
		t.Fatal(err)
	}
	status := reply.(CacheStatusReply)
	if status.State != "installed" || status.Version != "v2" {
		t.Fatalf("Unexpected status %+v", status)
	}
	if len(status.Caches) != 2 {
		t.Fatalf("Expected stale and static namespaces, got %+v", status.Caches)
	}
	if c := status.Caches[0]; c.Name != "static-v1" || c.Current || c.Entries != 1 {
		t.Fatalf("Unexpected stale namespace %+v", c)
	}
	if c := status.Caches[1]; c.Name != "static-v2" || !c.Current || c.Entries != 2 {
		t.Fatalf("Unexpected static namespace %+v", c)
	}
}

func TestClearCache(t *testing.T) {
	provider := cache.NewMemCache()
	seedNamespaces(t, provider, "static-v1", "static-v2")
	w := newTestWorker(t, newFakeNetwork(), func(c *Config) { c.Cache = provider })

	reply, err := w.HandleMessage(context.Background(), Message{Type: MessageClearCache})
	if err != nil {
		t.Fatal(err)
	}
	if deleted := reply.(ClearReply).Deleted; len(deleted) != 2 {
		t.Fatalf("Expected 2 namespaces deleted, got %v", deleted)
	}
}

func TestCacheReportGoesToSink(t *testing.T) {
	sink := &recordingSink{}
	w := newTestWorker(t, newFakeNetwork(), func(c *Config) { c.Reports = sink })
	msg := Message{Type: MessageCacheReport, Payload: json.RawMessage(`{"id":7}`)}
	if _, err := w.HandleMessage(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(sink.payloads) != 1 || string(sink.payloads[0]) != `{"id":7}` {
		t.Fatalf("Unexpected payloads %v", sink.payloads)
	}
}

func TestUnknownMessage(t *testing.T) {
	w := newTestWorker(t, newFakeNetwork(), nil)
	if _, err := w.HandleMessage(context.Background(), Message{Type: "REBOOT"}); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("Expected ErrUnknownMessage, got %v", err)
	}
}
