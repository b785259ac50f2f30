package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/invincit/offline-cache/cache"
	cachekey "github.com/invincit/offline-cache/pkg/cache-key"
	serializer "github.com/invincit/offline-cache/pkg/response-serializer"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrNotSuccessful is recorded for manifest entries the network answered with a non-2xx status.
var ErrNotSuccessful = errors.New("response not successful")

// ErrNotStorable is recorded for manifest entries whose response may not be stored.
var ErrNotStorable = errors.New("response not storable")

const defaultPopulateConcurrency = 4

// StoreManager owns the namespaces: it populates them at install time,
// prunes them at activation, and reads and writes their entries.
type StoreManager struct {
	cache       cache.CacheProvider
	keyer       cachekey.CacheKeyer
	fetcher     Fetcher
	current     Namespaces
	timeout     time.Duration
	concurrency int
	metrics     *workerMetrics
	log         zerolog.Logger
}

// PopulateResult is the outcome of one manifest entry.
type PopulateResult struct {
	URL string
	Err error
}

type PopulateReport struct {
	Namespace string
	Results   []PopulateResult
}

// Stored returns the manifest entries that were stored.
func (r PopulateReport) Stored() []string {
	out := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.URL)
		}
	}
	return out
}

// Failed returns the manifest entries that could not be stored.
func (r PopulateReport) Failed() []PopulateResult {
	out := make([]PopulateResult, 0)
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// listNamespacesKey holds the error of listing namespaces in PruneReport.Errors.
const listNamespacesKey = ""

type PruneReport struct {
	Deleted  []string
	Retained []string
	Errors   map[string]error
}

// Err joins the per-namespace deletion errors, or returns nil.
func (r PruneReport) Err() error {
	errs := make([]error, 0, len(r.Errors))
	for name, err := range r.Errors {
		if name == listNamespacesKey {
			errs = append(errs, fmt.Errorf("list namespaces: %w", err))
			continue
		}
		errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
	}
	return errors.Join(errs...)
}

// NamespaceStatus describes one existing namespace.
type NamespaceStatus struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Current bool   `json:"current"`
}

// Populate fetches and stores every manifest entry independently.
// Failures are recorded in the report and logged, never returned;
// Populate returns once every attempt has resolved.
func (s *StoreManager) Populate(ctx context.Context, namespace string, manifest []string) PopulateReport {
	report := PopulateReport{
		Namespace: namespace,
		Results:   make([]PopulateResult, len(manifest)),
	}
	if err := s.cache.Open(ctx, namespace); err != nil {
		s.log.Error().Err(err).Str("namespace", namespace).Msg("Could not open namespace")
	}

	g := errgroup.Group{}
	g.SetLimit(s.concurrency)
	for i, entry := range manifest {
		i, entry := i, entry
		g.Go(func() error {
			err := s.populateOne(ctx, namespace, entry)
			report.Results[i] = PopulateResult{URL: entry, Err: err}
			if err != nil {
				s.log.Warn().Err(err).Str("url", entry).Str("namespace", namespace).Msg("Could not cache manifest entry")
			} else {
				s.log.Debug().Str("url", entry).Str("namespace", namespace).Msg("Cached manifest entry")
			}
			s.metrics.recordPopulate(ctx, err == nil)
			return nil
		})
	}
	g.Wait()
	return report
}

func (s *StoreManager) populateOne(ctx context.Context, namespace, entry string) error {
	u, err := s.keyer.Resolve(entry)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	res, err := fetchBuffered(ctx, s.fetcher, req, s.timeout)
	if err != nil {
		return err
	}
	if !IsSuccessful(res) {
		return fmt.Errorf("%w: %s", ErrNotSuccessful, res.Status)
	}
	stored, err := s.Store(ctx, namespace, req, res)
	if err != nil {
		return err
	}
	if !stored {
		return ErrNotStorable
	}
	return nil
}

// Prune deletes every namespace whose name is not in retained.
// Each deletion is attempted independently; failures are collected in the report.
func (s *StoreManager) Prune(ctx context.Context, retained []string) PruneReport {
	report := PruneReport{Errors: map[string]error{}}
	keep := make(map[string]bool, len(retained))
	for _, name := range retained {
		keep[name] = true
	}
	names, err := s.cache.Namespaces(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not list namespaces")
		report.Errors[listNamespacesKey] = err
		return report
	}

	mu := sync.Mutex{}
	g := errgroup.Group{}
	for _, name := range names {
		if keep[name] {
			report.Retained = append(report.Retained, name)
			continue
		}
		name := name
		g.Go(func() error {
			s.log.Info().Str("namespace", name).Msg("Deleting stale namespace")
			_, err := s.cache.Delete(ctx, name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.log.Error().Err(err).Str("namespace", name).Msg("Could not delete namespace")
				report.Errors[name] = err
				return nil
			}
			report.Deleted = append(report.Deleted, name)
			return nil
		})
	}
	g.Wait()
	return report
}

// Lookup returns the stored response for the request in the namespace.
// A miss, and any storage error, is reported as not found.
func (s *StoreManager) Lookup(ctx context.Context, namespace string, req *http.Request) (*http.Response, bool) {
	key := s.keyer.GetKey(req)
	ce, ok, err := s.cache.Get(ctx, namespace, key)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Str("namespace", namespace).Msg("Could not retrieve from cache")
		return nil, false
	}
	if !ok {
		s.log.Trace().Str("key", key).Str("namespace", namespace).Msg("Cache miss")
		return nil, false
	}
	res, err := serializer.BytesToResponse(ce.Bytes, req)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Could not create response")
		return nil, false
	}
	s.log.Trace().Str("key", key).Str("namespace", namespace).Msg("Cache hit")
	return res, true
}

// Match looks the request up across all namespaces,
// the current ones first and the rest in creation order.
func (s *StoreManager) Match(ctx context.Context, req *http.Request) (*http.Response, bool) {
	names, err := s.cache.Namespaces(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Could not list namespaces")
		return nil, false
	}
	ordered := make([]string, 0, len(names))
	for _, name := range names {
		if s.current.IsCurrent(name) {
			ordered = append(ordered, name)
		}
	}
	for _, name := range names {
		if !s.current.IsCurrent(name) {
			ordered = append(ordered, name)
		}
	}
	for _, name := range ordered {
		if res, ok := s.Lookup(ctx, name, req); ok {
			return res, true
		}
	}
	return nil, false
}

// Store persists the response under the request identity.
// Responses that are not storable are skipped and reported as not stored:
// unsuccessful or partial ones, answers to ranged requests, and anything
// Cache-Control keeps out of a shared cache.
// The response body stays readable.
func (s *StoreManager) Store(ctx context.Context, namespace string, req *http.Request, res *http.Response) (bool, error) {
	if !IsStorable(req, res) {
		s.log.Trace().Str("url", req.URL.String()).Msg("Response not storable")
		return false, nil
	}
	key := s.keyer.GetKey(req)
	bts, err := serializer.ResponseToBytes(res)
	if err != nil {
		return false, err
	}
	s.log.Trace().Str("key", key).Str("namespace", namespace).Msg("Writing to cache")
	err = s.cache.Put(ctx, namespace, cache.CacheEntry{
		Key:      key,
		StoredAt: time.Now(),
		Bytes:    bts,
	})
	return err == nil, err
}

// Clear deletes every namespace, current ones included.
func (s *StoreManager) Clear(ctx context.Context) ([]string, error) {
	report := s.Prune(ctx, nil)
	return report.Deleted, report.Err()
}

// Names returns the names of all existing namespaces.
func (s *StoreManager) Names(ctx context.Context) ([]string, error) {
	return s.cache.Namespaces(ctx)
}

// URLs returns the URLs stored in the namespace, sorted.
func (s *StoreManager) URLs(ctx context.Context, namespace string) ([]string, error) {
	urls := make([]string, 0)
	var malformed error
	err := s.cache.Keys(ctx, namespace, func(key string) {
		req, err := s.keyer.GetRequestFromKey(key)
		if err != nil {
			malformed = err
			return
		}
		urls = append(urls, req.URL.String())
	})
	if err != nil {
		return nil, err
	}
	if malformed != nil {
		s.log.Warn().Err(malformed).Str("namespace", namespace).Msg("Skipped malformed keys")
	}
	sort.Strings(urls)
	return urls, nil
}

// Status returns the entry count of every existing namespace.
func (s *StoreManager) Status(ctx context.Context) ([]NamespaceStatus, error) {
	names, err := s.cache.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NamespaceStatus, 0, len(names))
	for _, name := range names {
		count := 0
		if err := s.cache.Keys(ctx, name, func(string) { count++ }); err != nil && !errors.Is(err, cache.ErrNoNamespace) {
			return out, err
		}
		out = append(out, NamespaceStatus{Name: name, Entries: count, Current: s.current.IsCurrent(name)})
	}
	return out, nil
}
