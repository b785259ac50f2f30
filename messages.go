package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownMessage = errors.New("offlinecache: unknown message type")

// Message types sent by the page-level controller.
const (
	MessageSkipWaiting    = "SKIP_WAITING"
	MessageGetVersion     = "GET_VERSION"
	MessageGetCacheStatus = "GET_CACHE_STATUS"
	MessageClearCache     = "CLEAR_CACHE"
	MessageCacheReport    = "CACHE_REPORT"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// StateReply answers SKIP_WAITING and CACHE_REPORT.
type StateReply struct {
	State string `json:"state"`
}

// VersionReply answers GET_VERSION.
type VersionReply struct {
	Version string   `json:"version"`
	Caches  []string `json:"caches"`
}

// CacheStatusReply answers GET_CACHE_STATUS.
type CacheStatusReply struct {
	Version string            `json:"version"`
	State   string            `json:"state"`
	Caches  []NamespaceStatus `json:"caches"`
}

// ClearReply answers CLEAR_CACHE.
type ClearReply struct {
	Deleted []string `json:"deleted"`
}

// HandleMessage runs the command carried by the message and returns the reply
// to send back on the reply channel.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) (any, error) {
	w.log.Debug().Str("type", msg.Type).Msg("Message received")
	switch msg.Type {
	case MessageSkipWaiting:
		if _, err := w.SkipWaiting(ctx); err != nil {
			return nil, err
		}
		return StateReply{State: w.State().String()}, nil
	case MessageGetVersion:
		return VersionReply{
			Version: w.version,
			Caches:  w.namespaces.Retained(),
		}, nil
	case MessageGetCacheStatus:
		caches, err := w.store.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("cache status: %w", err)
		}
		return CacheStatusReply{
			Version: w.version,
			State:   w.State().String(),
			Caches:  caches,
		}, nil
	case MessageClearCache:
		deleted, err := w.store.Clear(ctx)
		w.metrics.recordPruned(ctx, len(deleted))
		w.log.Info().Strs("deleted", deleted).Msg("Cleared all namespaces")
		if deleted == nil {
			deleted = []string{}
		}
		return ClearReply{Deleted: deleted}, err
	case MessageCacheReport:
		if err := w.reports.Report(ctx, msg.Payload); err != nil {
			return nil, fmt.Errorf("cache report: %w", err)
		}
		return StateReply{State: w.State().String()}, nil
	}
	w.log.Warn().Str("type", msg.Type).Msg("Unknown message type")
	return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, msg.Type)
}
