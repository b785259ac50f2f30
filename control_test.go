package offlinecache

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func controlServer(t *testing.T, w *Worker) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/_worker", w.ControlRouter())
	r.Handle("/*", w)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func decodeJSON(t *testing.T, res *http.Response, v any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestControlInstallAndStatus(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/", http.StatusOK, "<html></html>")
	w := newTestWorker(t, network, func(c *Config) { c.Manifest = []string{"/", "/missing.js"} })
	srv := controlServer(t, w)

	res, err := http.Post(srv.URL+"/_worker/install", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", res.StatusCode)
	}
	var install installReply
	decodeJSON(t, res, &install)
	if install.State != "activated" || len(install.Stored) != 1 || len(install.Failed) != 1 {
		t.Fatalf("Unexpected install reply %+v", install)
	}

	res, err = http.Post(srv.URL+"/_worker/install", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409 on second install, got %d", res.StatusCode)
	}

	res, err = http.Get(srv.URL + "/_worker/status")
	if err != nil {
		t.Fatal(err)
	}
	var status CacheStatusReply
	decodeJSON(t, res, &status)
	if status.Version != "v2" || status.State != "activated" {
		t.Fatalf("Unexpected status %+v", status)
	}
}

func TestControlActivateBeforeInstall(t *testing.T) {
	w := newTestWorker(t, newFakeNetwork(), nil)
	srv := controlServer(t, w)
	res, err := http.Post(srv.URL+"/_worker/activate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", res.StatusCode)
	}
}

func TestControlMessage(t *testing.T) {
	w := newTestWorker(t, newFakeNetwork(), nil)
	srv := controlServer(t, w)

	res, err := http.Post(srv.URL+"/_worker/message", "application/json", strings.NewReader(`{"type":"GET_VERSION"}`))
	if err != nil {
		t.Fatal(err)
	}
	var version VersionReply
	decodeJSON(t, res, &version)
	if version.Version != "v2" || len(version.Caches) != 2 {
		t.Fatalf("Unexpected version reply %+v", version)
	}

	res, err = http.Post(srv.URL+"/_worker/message", "application/json", strings.NewReader(`{"type":"REBOOT"}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for unknown message, got %d", res.StatusCode)
	}

	res, err = http.Post(srv.URL+"/_worker/message", "application/json", strings.NewReader(`not json`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("Expected 400 for invalid json, got %d", res.StatusCode)
	}
}

func TestControlPushAndClick(t *testing.T) {
	notifier := &recordingNotifier{}
	clients := &countingClients{}
	w := newTestWorker(t, newFakeNetwork(), func(c *Config) {
		c.AppName = "Invincit"
		c.Notifier = notifier
		c.Clients = clients
	})
	srv := controlServer(t, w)

	res, err := http.Post(srv.URL+"/_worker/push", "text/plain", strings.NewReader("Report ready"))
	if err != nil {
		t.Fatal(err)
	}
	var n Notification
	decodeJSON(t, res, &n)
	if n.Title != "Invincit" || n.Body != "Report ready" {
		t.Fatalf("Unexpected notification %+v", n)
	}

	res, err = http.Post(srv.URL+"/_worker/notificationclick", "application/json", strings.NewReader(`{"data":{"url":"/reports"}}`))
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", res.StatusCode)
	}
	if opened := clients.windows(); len(opened) != 1 || opened[0] != "https://app.example/reports" {
		t.Fatalf("Unexpected windows %v", opened)
	}
}

func TestControlSync(t *testing.T) {
	ran := make(chan string, 1)
	w := newTestWorker(t, newFakeNetwork(), func(c *Config) {
		c.SyncHandlers = map[string]SyncHandler{
			"upload-reports": func(ctx context.Context) error { ran <- "upload-reports"; return nil },
		}
	})
	srv := controlServer(t, w)
	res, err := http.Post(srv.URL+"/_worker/sync/upload-reports", "text/plain", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", res.StatusCode)
	}
	select {
	case tag := <-ran:
		if tag != "upload-reports" {
			t.Fatalf("Unexpected tag %q", tag)
		}
	default:
		t.Fatal("Expected sync handler to run")
	}
}

func TestControlNamespaceURLs(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/", http.StatusOK, "<html></html>")
	network.serve("/app.js", http.StatusOK, "js")
	w := newTestWorker(t, network, func(c *Config) { c.Manifest = []string{"/app.js", "/"} })
	installTestWorker(t, w)
	srv := controlServer(t, w)

	res, err := http.Get(srv.URL + "/_worker/caches/static-v2")
	if err != nil {
		t.Fatal(err)
	}
	var reply namespaceReply
	decodeJSON(t, res, &reply)
	if reply.Name != "static-v2" || len(reply.URLs) != 2 || reply.URLs[0] != "https://app.example/" || reply.URLs[1] != "https://app.example/app.js" {
		t.Fatalf("Unexpected namespace reply %+v", reply)
	}

	res, err = http.Get(srv.URL + "/_worker/caches/static-v1")
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("Expected 404 for missing namespace, got %d", res.StatusCode)
	}
}
