package offlinecache

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

type panickingNotifier struct{}

func (panickingNotifier) ShowNotification(ctx context.Context, n Notification) error {
	panic("notification service gone")
}

func (panickingNotifier) CloseNotification(ctx context.Context, n Notification) error {
	return nil
}

func TestDispatchLifecycle(t *testing.T) {
	network := newFakeNetwork()
	network.serve("/a.css", http.StatusOK, "css")
	w := newTestWorker(t, network, func(c *Config) {
		c.Manifest = []string{"/a.css"}
		c.DisableSkipWaiting = true
	})
	ctx := context.Background()

	result := w.Dispatch(ctx, InstallEvent{})
	if result.Err != nil || result.Populate == nil || len(result.Populate.Stored()) != 1 {
		t.Fatalf("Unexpected install result %+v", result)
	}
	result = w.Dispatch(ctx, ActivateEvent{})
	if result.Err != nil || result.Prune == nil {
		t.Fatalf("Unexpected activate result %+v", result)
	}
	result = w.Dispatch(ctx, FetchEvent{Request: newRequest(t, "GET", resolveTestURL("/a.css"))})
	if !result.Handled || result.Response.StatusCode != http.StatusOK {
		t.Fatalf("Unexpected fetch result %+v", result)
	}
	result = w.Dispatch(ctx, MessageEvent{Message: Message{Type: MessageGetVersion}})
	if result.Err != nil || result.Reply.(VersionReply).Version != "v2" {
		t.Fatalf("Unexpected message result %+v", result)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	w := newTestWorker(t, newFakeNetwork(), func(c *Config) { c.Notifier = panickingNotifier{} })
	result := w.Dispatch(context.Background(), PushEvent{Data: []byte("hello")})
	if !errors.Is(result.Err, ErrHandlerPanic) {
		t.Fatalf("Expected ErrHandlerPanic, got %v", result.Err)
	}
	// the worker keeps serving events
	result = w.Dispatch(context.Background(), MessageEvent{Message: Message{Type: MessageGetVersion}})
	if result.Err != nil {
		t.Fatal(result.Err)
	}
}

func TestDispatchFetchPanicIsUnavailable(t *testing.T) {
	network := FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		panic("transport bug")
	})
	w := newTestWorker(t, network, nil)
	installTestWorker(t, w)

	result := w.Dispatch(context.Background(), FetchEvent{Request: newRequest(t, "GET", resolveTestURL("/api/data"))})
	if !errors.Is(result.Err, ErrHandlerPanic) {
		t.Fatalf("Expected ErrHandlerPanic, got %v", result.Err)
	}
	if !result.Handled || result.Response.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected synthetic 503, got %+v", result)
	}
}
