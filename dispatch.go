package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	cachestatus "github.com/invincit/offline-cache/pkg/cache-status"
)

var ErrHandlerPanic = errors.New("offlinecache: event handler panicked")

// Event is one of the lifecycle events the worker consumes.
type Event interface {
	EventName() string
}

type InstallEvent struct{}

type ActivateEvent struct{}

type FetchEvent struct {
	Request *http.Request
}

type MessageEvent struct {
	Message Message
}

type PushEvent struct {
	Data []byte
}

type NotificationClickEvent struct {
	Notification Notification
}

type SyncEvent struct {
	Tag string
}

func (InstallEvent) EventName() string           { return "install" }
func (ActivateEvent) EventName() string          { return "activate" }
func (FetchEvent) EventName() string             { return "fetch" }
func (MessageEvent) EventName() string           { return "message" }
func (PushEvent) EventName() string              { return "push" }
func (NotificationClickEvent) EventName() string { return "notificationclick" }
func (SyncEvent) EventName() string              { return "sync" }

// Result is the outcome of a dispatched event.
// Only the fields that apply to the event are set.
type Result struct {
	// Fetch: the response and how it was produced. Handled is false when the
	// request was not intercepted and must go to the network untouched.
	Response *http.Response
	Status   cachestatus.CacheStatus
	Handled  bool

	// Install and activate reports.
	Populate *PopulateReport
	Prune    *PruneReport

	// Message reply, or the notification shown for a push.
	Reply any

	Err error
}

// Dispatch routes the event to its handler. Errors and panics are logged and
// returned in the result; they never escape, so the worker keeps operating.
func (w *Worker) Dispatch(ctx context.Context, ev Event) (result Result) {
	defer func() {
		if p := recover(); p != nil {
			w.log.Error().
				Str("event", ev.EventName()).
				Interface("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Uncaught error in event handler")
			result.Err = fmt.Errorf("%w: %v", ErrHandlerPanic, p)
			if fe, ok := ev.(FetchEvent); ok && result.Response == nil && Intercepts(fe.Request) && w.State() == StateActivated {
				result.Response = Unavailable(fe.Request, w.router.unavailableBody)
				result.Status = cachestatus.CacheStatus{Detail: cachestatus.DetailUnavailable}
				result.Handled = true
			}
		}
	}()

	switch e := ev.(type) {
	case InstallEvent:
		report, err := w.Install(ctx)
		result.Populate, result.Err = &report, err
	case ActivateEvent:
		report, err := w.Activate(ctx)
		result.Prune, result.Err = &report, err
	case FetchEvent:
		result.Response, result.Status, result.Handled = w.HandleFetch(ctx, e.Request)
	case MessageEvent:
		result.Reply, result.Err = w.HandleMessage(ctx, e.Message)
	case PushEvent:
		result.Reply, result.Err = w.HandlePush(ctx, e.Data)
	case NotificationClickEvent:
		result.Err = w.HandleNotificationClick(ctx, e.Notification)
	case SyncEvent:
		result.Err = w.HandleSync(ctx, e.Tag)
	default:
		result.Err = fmt.Errorf("offlinecache: unsupported event %q", ev.EventName())
	}

	if result.Err != nil {
		w.log.Error().Err(result.Err).Str("event", ev.EventName()).Msg("Event handler failed")
	}
	return result
}
