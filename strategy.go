package offlinecache

import (
	"context"
	"net/http"
	"time"

	cachekey "github.com/invincit/offline-cache/pkg/cache-key"
	cachestatus "github.com/invincit/offline-cache/pkg/cache-status"

	"github.com/rs/zerolog"
)

// Router classifies intercepted requests and runs the matching strategy:
// cache-first for static requests, network-first for dynamic ones.
type Router struct {
	store           *StoreManager
	fetcher         Fetcher
	classifier      Classifier
	namespaces      Namespaces
	keyer           cachekey.CacheKeyer
	fallbackPages   []string
	unavailableBody string
	timeout         time.Duration
	metrics         *workerMetrics
	log             zerolog.Logger
}

// Handle runs the strategy for an intercepted request.
// It always produces a response: from the cache, from the network,
// or a synthetic 503 when neither can answer.
func (rt *Router) Handle(ctx context.Context, req *http.Request) (*http.Response, cachestatus.CacheStatus) {
	class, rule := rt.classifier.Classify(req)
	rt.log.Trace().Str("url", req.URL.String()).Str("class", string(class)).Int("rule", rule).Msg("Classified request")
	if class == ClassStatic {
		return rt.cacheFirst(ctx, req)
	}
	return rt.networkFirst(ctx, req)
}

func (rt *Router) cacheFirst(ctx context.Context, req *http.Request) (*http.Response, cachestatus.CacheStatus) {
	cs := cachestatus.CacheStatus{}
	if res, ok := rt.store.Lookup(ctx, rt.namespaces.Static, req); ok {
		cs.Hit()
		rt.metrics.recordRequest(ctx, ClassStatic, outcomeHit)
		return res, cs
	}

	cs.Forward(cachestatus.FwdUriMiss)
	res, err := fetchBuffered(ctx, rt.fetcher, req, rt.timeout)
	if err == nil {
		cs.Stored = rt.save(ctx, rt.namespaces.Static, req, res)
		rt.metrics.recordRequest(ctx, ClassStatic, outcomeNetwork)
		return res, cs
	}
	rt.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Network failed for static request")

	if IsDocument(req) {
		if res, ok := rt.entryPage(ctx, req); ok {
			cs.Hit()
			cs.Detail = cachestatus.DetailEntryPage
			rt.metrics.recordRequest(ctx, ClassStatic, outcomeEntryPage)
			return res, cs
		}
	}
	cs.Detail = cachestatus.DetailUnavailable
	rt.metrics.recordRequest(ctx, ClassStatic, outcomeUnavailable)
	return Unavailable(req, rt.unavailableBody), cs
}

func (rt *Router) networkFirst(ctx context.Context, req *http.Request) (*http.Response, cachestatus.CacheStatus) {
	cs := cachestatus.CacheStatus{}
	cs.Forward(cachestatus.FwdRequest)
	res, err := fetchBuffered(ctx, rt.fetcher, req, rt.timeout)
	if err == nil {
		cs.Stored = rt.save(ctx, rt.namespaces.Dynamic, req, res)
		rt.metrics.recordRequest(ctx, ClassDynamic, outcomeNetwork)
		return res, cs
	}
	rt.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Network failed for dynamic request")

	if res, ok := rt.store.Match(ctx, req); ok {
		cs.Hit()
		cs.Detail = cachestatus.DetailFallback
		rt.metrics.recordRequest(ctx, ClassDynamic, outcomeFallback)
		return res, cs
	}
	cs.Detail = cachestatus.DetailUnavailable
	rt.metrics.recordRequest(ctx, ClassDynamic, outcomeUnavailable)
	return Unavailable(req, rt.unavailableBody), cs
}

// save writes a successful response to the namespace before it is returned.
// Storage errors are logged; the response is returned either way.
func (rt *Router) save(ctx context.Context, namespace string, req *http.Request, res *http.Response) bool {
	stored, err := rt.store.Store(ctx, namespace, req, res)
	if err != nil {
		rt.log.Error().Err(err).Str("url", req.URL.String()).Str("namespace", namespace).Msg("Could not write to cache")
	}
	return stored
}

// entryPage returns the first stored fallback page from the static namespace.
func (rt *Router) entryPage(ctx context.Context, req *http.Request) (*http.Response, bool) {
	for _, page := range rt.fallbackPages {
		u, err := rt.keyer.Resolve(page)
		if err != nil {
			continue
		}
		pageReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			continue
		}
		if res, ok := rt.store.Lookup(ctx, rt.namespaces.Static, pageReq); ok {
			res.Request = req
			return res, true
		}
	}
	return nil, false
}
