package offlinecache

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/invincit/offline-cache/cache"
	cachekey "github.com/invincit/offline-cache/pkg/cache-key"
	cachestatus "github.com/invincit/offline-cache/pkg/cache-status"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNoCache   = errors.New("offlinecache: no cache provider configured")
	ErrNoVersion = errors.New("offlinecache: no version configured")
	ErrNoFetcher = errors.New("offlinecache: neither fetcher nor origin configured")
)

const defaultFetchTimeout = 30 * time.Second

type Config struct {
	// Storage for the namespaces.
	Cache cache.CacheProvider
	// Fetcher used for network requests.
	// If nil, an OriginFetcher for OriginURL is used.
	Fetcher Fetcher
	// URL of the origin server.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation with the origin.
	OriginHost string
	// Scope is the public base URL the worker controls.
	// Relative manifest entries and request paths resolve against it.
	// Defaults to the origin root.
	Scope *url.URL

	// Version tag of the running application, e.g. "v1.2.0".
	Version string
	// Prefix of the namespace names, e.g. "invincit".
	Prefix string
	// Manifest lists the resources stored in the static namespace at install time.
	Manifest []string
	// FallbackPages are tried, in order, when a document request fails offline.
	// Defaults to "/" and "/index.html".
	FallbackPages []string
	// Classifier values; empty fields take the defaults.
	Classifier ClassifierConfig
	// Body of the synthetic 503 response.
	UnavailableBody string

	// Keep the installed worker waiting until SKIP_WAITING or an explicit activation.
	DisableSkipWaiting bool
	// Timeout of every network fetch. Defaults to 30 seconds.
	FetchTimeout time.Duration
	// Number of manifest entries fetched at the same time during install.
	PopulateConcurrency int

	// Display name used as the notification title.
	AppName string
	// Options applied to push notifications.
	Notification NotificationConfig

	// Collaborators. Logging implementations are used if nil.
	Clients  Clients
	Notifier Notifier
	Reports  ReportSink
	// Background sync handlers by tag.
	SyncHandlers map[string]SyncHandler

	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Meter for the worker metrics. The global meter provider is used if nil.
	Meter metric.Meter
}

// Worker is the request interception layer.
// It owns the cache store manager and the strategy router and tracks
// the install/activate lifecycle.
type Worker struct {
	version    string
	namespaces Namespaces
	manifest   []string
	keyer      cachekey.CacheKeyer
	fetcher    Fetcher
	store      *StoreManager
	router     *Router
	metrics    *workerMetrics

	skipWaiting  bool
	notification NotificationConfig
	appName      string
	clients      Clients
	notifier     Notifier
	reports      ReportSink
	syncHandlers map[string]SyncHandler

	mu     sync.Mutex
	state  State
	ready  chan struct{}
	active chan struct{}

	log zerolog.Logger
}

// New creates the worker. It does not install or activate it.
func New(config Config) (*Worker, error) {
	if config.Cache == nil {
		return nil, ErrNoCache
	}
	if config.Version == "" {
		return nil, ErrNoVersion
	}

	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	scope := config.Scope
	if scope == nil {
		if config.OriginURL.Host == "" {
			if config.Fetcher == nil {
				return nil, ErrNoFetcher
			}
		} else {
			scope = &url.URL{Scheme: config.OriginURL.Scheme, Host: config.OriginURL.Host, Path: "/"}
		}
	}

	fetcher := config.Fetcher
	if fetcher == nil {
		if config.OriginURL.Host == "" {
			return nil, ErrNoFetcher
		}
		fetcher = NewOriginFetcher(config.OriginURL, scope, config.OriginHost)
	}

	// create a child logger and add defaults
	ctxLogger := logger.With().Str("version", config.Version)
	if scope != nil {
		ctxLogger = ctxLogger.Str("scope", scope.String())
	}
	logger = ctxLogger.Logger()

	metrics, err := newWorkerMetrics(config.Meter)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not create metrics, recording nothing")
		metrics = noopWorkerMetrics()
	}

	timeout := config.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	concurrency := config.PopulateConcurrency
	if concurrency <= 0 {
		concurrency = defaultPopulateConcurrency
	}
	fallbackPages := config.FallbackPages
	if len(fallbackPages) == 0 {
		fallbackPages = []string{"/", "/index.html"}
	}

	keyer := cachekey.NewCacheKeyer(scope)
	namespaces := NewNamespaces(config.Prefix, config.Version)

	store := &StoreManager{
		cache:       config.Cache,
		keyer:       keyer,
		fetcher:     fetcher,
		current:     namespaces,
		timeout:     timeout,
		concurrency: concurrency,
		metrics:     metrics,
		log:         logger,
	}

	w := &Worker{
		version:    config.Version,
		namespaces: namespaces,
		manifest:   append([]string(nil), config.Manifest...),
		keyer:      keyer,
		fetcher:    fetcher,
		store:      store,
		router: &Router{
			store:           store,
			fetcher:         fetcher,
			classifier:      NewClassifier(config.Classifier),
			namespaces:      namespaces,
			keyer:           keyer,
			fallbackPages:   fallbackPages,
			unavailableBody: config.UnavailableBody,
			timeout:         timeout,
			metrics:         metrics,
			log:             logger,
		},
		metrics:      metrics,
		skipWaiting:  !config.DisableSkipWaiting,
		notification: config.Notification.withDefaults(),
		appName:      config.AppName,
		clients:      config.Clients,
		notifier:     config.Notifier,
		reports:      config.Reports,
		syncHandlers: config.SyncHandlers,
		state:        StateParsed,
		ready:        make(chan struct{}),
		active:       make(chan struct{}),
		log:          logger,
	}
	if w.appName == "" {
		w.appName = config.Prefix
	}
	if w.clients == nil {
		w.clients = logClients{log: logger}
	}
	if w.notifier == nil {
		w.notifier = logNotifier{log: logger}
	}
	if w.reports == nil {
		w.reports = logReportSink{log: logger}
	}

	logger.Info().
		Str("static", namespaces.Static).
		Str("dynamic", namespaces.Dynamic).
		Int("manifest", len(w.manifest)).
		Msg("Worker loaded")
	return w, nil
}

// Version returns the running version tag.
func (w *Worker) Version() string {
	return w.version
}

// Namespaces returns the current namespace names.
func (w *Worker) Namespaces() Namespaces {
	return w.namespaces
}

// Store returns the cache store manager.
func (w *Worker) Store() *StoreManager {
	return w.store
}

// ServeHTTP implements the http.Handler interface.
// The request is dispatched as a fetch event; requests the worker does not
// intercept are passed to the network untouched.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	req := w.absoluteRequest(r)
	result := w.Dispatch(r.Context(), FetchEvent{Request: req})
	cs := result.Status
	res := result.Response
	if !result.Handled {
		cs.Forward(cachestatus.FwdBypass)
		if pt, ok := w.fetcher.(passThrougher); ok {
			rw.Header().Set(cachestatus.HeaderName, cs.String())
			status, bytesWritten := pt.PassThrough(rw, req)
			w.logRequest(r, status, cs)
			w.log.Trace().Msgf("Passed through body (%d bytes)", bytesWritten)
			return
		}
		var err error
		res, err = w.fetcher.Fetch(r.Context(), req)
		if err != nil {
			w.log.Error().Err(err).Str("url", req.URL.String()).Msg("Could not pass request through")
			rw.Header().Set(cachestatus.HeaderName, cs.String())
			http.Error(rw, "bad gateway", http.StatusBadGateway)
			return
		}
	}
	w.sendResponse(rw, r, res, cs)
}

// passThrougher is implemented by fetchers that can write a response
// directly to the client instead of returning it.
type passThrougher interface {
	PassThrough(rw http.ResponseWriter, req *http.Request) (int, int)
}

// absoluteRequest gives the request an absolute URL within the scope.
// Absolute-form requests (forward proxy use) keep their URL.
func (w *Worker) absoluteRequest(r *http.Request) *http.Request {
	req := r.Clone(r.Context())
	req.RequestURI = ""
	if !req.URL.IsAbs() && w.keyer.Base != nil {
		req.URL = w.keyer.Base.ResolveReference(&url.URL{Path: r.URL.Path, RawPath: r.URL.RawPath, RawQuery: r.URL.RawQuery})
	}
	return req
}

func (w *Worker) sendResponse(rw http.ResponseWriter, r *http.Request, res *http.Response, cs cachestatus.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(rw.Header(), res.Header)
	rw.Header().Set(cachestatus.HeaderName, cs.String())
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.logRequest(r, res.StatusCode, cs)
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

func (w *Worker) logRequest(r *http.Request, status int, cs cachestatus.CacheStatus) {
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("status", status).
		Str("cache", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Str("detail", cs.Detail).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// the length of the body is set by the server when writing it
		if k == "Content-Length" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
