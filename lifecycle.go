package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	cachestatus "github.com/invincit/offline-cache/pkg/cache-status"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotInstalled     = errors.New("offlinecache: worker is not installed")
	ErrAlreadyInstalled = errors.New("offlinecache: worker was already installed")
)

// State is the lifecycle state of the worker.
type State int

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Ready is closed once installation has resolved and the worker
// is ready to supersede a previous version.
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Active is closed once activation has resolved and fetch events are served.
func (w *Worker) Active() <-chan struct{} {
	return w.active
}

// Install populates the static namespace from the manifest.
// Entries that cannot be fetched are logged and skipped; they never fail the install.
// Unless skip-waiting is disabled, the worker then activates right away.
func (w *Worker) Install(ctx context.Context) (PopulateReport, error) {
	w.mu.Lock()
	if w.state != StateParsed {
		w.mu.Unlock()
		return PopulateReport{}, ErrAlreadyInstalled
	}
	w.state = StateInstalling
	w.mu.Unlock()

	w.log.Info().Str("namespace", w.namespaces.Static).Int("manifest", len(w.manifest)).Msg("Installing")
	report := w.store.Populate(ctx, w.namespaces.Static, w.manifest)
	w.log.Info().
		Int("stored", len(report.Stored())).
		Int("failed", len(report.Failed())).
		Msg("Installation completed")

	w.mu.Lock()
	w.state = StateInstalled
	skip := w.skipWaiting
	w.mu.Unlock()
	close(w.ready)

	if skip {
		if _, err := w.Activate(ctx); err != nil {
			w.log.Error().Err(err).Msg("Could not activate after install")
		}
	}
	return report, nil
}

// SkipWaiting activates a worker that is installed and waiting.
// Called before installation has finished, it makes the install activate
// as soon as it resolves.
func (w *Worker) SkipWaiting(ctx context.Context) (PruneReport, error) {
	w.mu.Lock()
	state := w.state
	w.skipWaiting = true
	w.mu.Unlock()

	switch state {
	case StateInstalled:
		return w.Activate(ctx)
	case StateParsed, StateInstalling:
		w.log.Debug().Str("state", state.String()).Msg("Skip waiting requested before install resolved")
	}
	return PruneReport{}, nil
}

// Activate deletes stale namespaces and claims the open clients.
// Both are attempted even if the other fails; failures are logged and returned
// but the worker is active afterwards either way. Activating an active worker does nothing.
func (w *Worker) Activate(ctx context.Context) (PruneReport, error) {
	w.mu.Lock()
	switch w.state {
	case StateInstalled:
	case StateActivating, StateActivated:
		w.mu.Unlock()
		return PruneReport{}, nil
	default:
		w.mu.Unlock()
		return PruneReport{}, ErrNotInstalled
	}
	w.state = StateActivating
	w.mu.Unlock()

	w.log.Info().Msg("Activating")
	var report PruneReport
	var claimErr error
	g := errgroup.Group{}
	g.Go(func() error {
		report = w.store.Prune(ctx, w.namespaces.Retained())
		w.metrics.recordPruned(ctx, len(report.Deleted))
		return nil
	})
	g.Go(func() error {
		claimErr = w.clients.Claim(ctx)
		return nil
	})
	g.Wait()

	w.mu.Lock()
	w.state = StateActivated
	w.mu.Unlock()
	close(w.active)

	err := errors.Join(report.Err(), claimErr)
	if err != nil {
		w.log.Error().Err(err).Msg("Activation completed with errors")
	} else {
		w.log.Info().Strs("deleted", report.Deleted).Msg("Activation completed")
	}
	return report, err
}

// HandleFetch handles a fetch event. It reports false when the request is not
// intercepted: the worker is not active yet, or the request fails the precondition
// filter. Intercepted requests always get a response.
func (w *Worker) HandleFetch(ctx context.Context, req *http.Request) (*http.Response, cachestatus.CacheStatus, bool) {
	if w.State() != StateActivated || !Intercepts(req) {
		w.metrics.recordRequest(ctx, "", outcomeBypass)
		return nil, cachestatus.CacheStatus{}, false
	}
	res, cs := w.router.Handle(ctx, req)
	return res, cs, true
}
