package offlinecache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Clients controls the pages the worker serves.
type Clients interface {
	// Claim makes the worker the controller of every open page.
	Claim(ctx context.Context) error
	// OpenWindow opens a page on the URL.
	OpenWindow(ctx context.Context, url string) error
}

// Notifier displays notifications to the user.
type Notifier interface {
	ShowNotification(ctx context.Context, n Notification) error
	CloseNotification(ctx context.Context, n Notification) error
}

// ReportSink receives the payloads of CACHE_REPORT messages.
type ReportSink interface {
	Report(ctx context.Context, payload json.RawMessage) error
}

// SyncHandler runs when the background sync with its tag fires.
type SyncHandler func(ctx context.Context) error

// NotificationConfig holds the options applied to push notifications.
type NotificationConfig struct {
	DefaultBody string `yaml:"defaultBody"`
	Icon        string `yaml:"icon"`
	Badge       string `yaml:"badge"`
	Vibrate     []int  `yaml:"vibrate"`
	URL         string `yaml:"url"`
}

const defaultNotificationIcon = "./images/icons/icon-192.png"

func (c NotificationConfig) withDefaults() NotificationConfig {
	if c.DefaultBody == "" {
		c.DefaultBody = "New report received"
	}
	if c.Icon == "" {
		c.Icon = defaultNotificationIcon
	}
	if c.Badge == "" {
		c.Badge = defaultNotificationIcon
	}
	if len(c.Vibrate) == 0 {
		c.Vibrate = []int{200, 100, 200}
	}
	if c.URL == "" {
		c.URL = "./"
	}
	return c
}

type Notification struct {
	Title   string           `json:"title"`
	Body    string           `json:"body"`
	Icon    string           `json:"icon,omitempty"`
	Badge   string           `json:"badge,omitempty"`
	Vibrate []int            `json:"vibrate,omitempty"`
	Data    NotificationData `json:"data"`
}

type NotificationData struct {
	URL string `json:"url"`
}

// HandlePush shows a notification for a received push.
// The push text is the notification body; an empty push gets the default body.
func (w *Worker) HandlePush(ctx context.Context, data []byte) (Notification, error) {
	w.log.Debug().Int("bytes", len(data)).Msg("Push received")
	body := string(data)
	if body == "" {
		body = w.notification.DefaultBody
	}
	n := Notification{
		Title:   w.appName,
		Body:    body,
		Icon:    w.notification.Icon,
		Badge:   w.notification.Badge,
		Vibrate: w.notification.Vibrate,
		Data:    NotificationData{URL: w.notification.URL},
	}
	if err := w.notifier.ShowNotification(ctx, n); err != nil {
		return n, fmt.Errorf("show notification: %w", err)
	}
	return n, nil
}

// HandleNotificationClick closes the notification and opens its URL.
func (w *Worker) HandleNotificationClick(ctx context.Context, n Notification) error {
	w.log.Debug().Str("title", n.Title).Msg("Notification clicked")
	if err := w.notifier.CloseNotification(ctx, n); err != nil {
		w.log.Warn().Err(err).Msg("Could not close notification")
	}
	target := n.Data.URL
	if target == "" {
		target = "./"
	}
	if u, err := w.keyer.Resolve(target); err == nil {
		target = u.String()
	}
	if err := w.clients.OpenWindow(ctx, target); err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	return nil
}

// HandleSync runs the background sync handler registered for the tag.
// Unknown tags are logged and ignored.
func (w *Worker) HandleSync(ctx context.Context, tag string) error {
	handler, ok := w.syncHandlers[tag]
	if !ok {
		w.log.Warn().Str("tag", tag).Msg("No handler for sync tag")
		return nil
	}
	w.log.Debug().Str("tag", tag).Msg("Running background sync")
	if err := handler(ctx); err != nil {
		return fmt.Errorf("sync %s: %w", tag, err)
	}
	return nil
}

// logClients is used when no Clients collaborator is configured.
type logClients struct {
	log zerolog.Logger
}

func (c logClients) Claim(ctx context.Context) error {
	c.log.Debug().Msg("Claimed clients")
	return nil
}

func (c logClients) OpenWindow(ctx context.Context, url string) error {
	c.log.Info().Str("url", url).Msg("Open window")
	return nil
}

// logNotifier is used when no Notifier collaborator is configured.
type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) ShowNotification(ctx context.Context, notification Notification) error {
	n.log.Info().Str("title", notification.Title).Str("body", notification.Body).Msg("Show notification")
	return nil
}

func (n logNotifier) CloseNotification(ctx context.Context, notification Notification) error {
	return nil
}

// logReportSink is used when no ReportSink collaborator is configured.
type logReportSink struct {
	log zerolog.Logger
}

func (s logReportSink) Report(ctx context.Context, payload json.RawMessage) error {
	if !json.Valid(payload) {
		s.log.Info().Bytes("payload", payload).Msg("Cache report")
		return nil
	}
	s.log.Info().RawJSON("payload", payload).Msg("Cache report")
	return nil
}
