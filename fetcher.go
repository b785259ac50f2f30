package offlinecache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	serializer "github.com/invincit/offline-cache/pkg/response-serializer"
	tee "github.com/invincit/offline-cache/pkg/response-writer-tee"
)

// ErrFetchTimeout is returned when a network fetch does not finish within the fetch timeout.
var ErrFetchTimeout = errors.New("fetch timed out")

// Fetcher performs network fetches on behalf of the worker.
// An error means the network could not answer at all;
// any HTTP status, including 4xx and 5xx, is a successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// OriginFetcher fetches over HTTP.
// Requests for the worker scope are sent to the origin;
// requests for other hosts (e.g. font hosts) are sent as they are.
type OriginFetcher struct {
	client     *http.Client
	origin     url.URL
	scopeHost  string
	hostHeader string
}

// NewOriginFetcher creates a fetcher for the origin.
// originHost, if set, is used for the Host header and TLS negotiation,
// e.g. when the origin URL is just an IP address.
func NewOriginFetcher(origin url.URL, scope *url.URL, originHost string) *OriginFetcher {
	transport := http.DefaultTransport
	hostHeader := origin.Host
	if originHost != "" {
		hostHeader = originHost
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: originHost,
			},
		}
	}
	scopeHost := origin.Host
	if scope != nil && scope.Host != "" {
		scopeHost = scope.Host
	}
	return &OriginFetcher{
		client: &http.Client{
			Transport: transport,
			// redirects are returned to the caller, as a browser does for navigations
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		origin:     origin,
		scopeHost:  strings.ToLower(scopeHost),
		hostHeader: hostHeader,
	}
}

func (o *OriginFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, err
	}
	out.ContentLength = req.ContentLength
	copyRequestHeaders(out.Header, req.Header)
	if strings.ToLower(req.URL.Host) == o.scopeHost {
		out.URL.Scheme = o.origin.Scheme
		out.URL.Host = o.origin.Host
		out.Host = o.hostHeader
	}
	return o.client.Do(out)
}

// HandlerFetcher fetches by running an in-process handler,
// which lets the worker sit in front of an application as middleware.
type HandlerFetcher struct {
	Handler http.Handler
}

func (h HandlerFetcher) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	saver := tee.NewResponseSaver(nil)
	inner := req.Clone(ctx)
	inner.RequestURI = req.URL.RequestURI()
	h.Handler.ServeHTTP(saver, inner)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return saver.Response(req), nil
}

// PassThrough runs the handler for a request the worker does not intercept,
// writing its response straight to rw. It returns the status and the number
// of body bytes written.
func (h HandlerFetcher) PassThrough(rw http.ResponseWriter, req *http.Request) (int, int) {
	saver := tee.NewResponseSaver(rw)
	inner := req.Clone(req.Context())
	inner.RequestURI = req.URL.RequestURI()
	h.Handler.ServeHTTP(saver, inner)
	return saver.StatusCode(), len(saver.Body())
}

// fetchBuffered runs the fetch under the timeout and reads the whole body,
// so that the response stays usable after the timeout context is gone.
func fetchBuffered(ctx context.Context, fetcher Fetcher, req *http.Request, timeout time.Duration) (*http.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := fetcher.Fetch(ctx, req)
	if err == nil && res == nil {
		err = fmt.Errorf("fetch %s: no response", req.URL)
	}
	if err == nil {
		_, err = serializer.Buffer(res)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrFetchTimeout, req.URL)
		}
		return nil, err
	}
	if res.Request == nil {
		res.Request = req
	}
	return res, nil
}

// hop-by-hop and proxy headers that must not be forwarded
var skippedRequestHeaders = map[string]bool{
	"Host":              true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Proxy-Connection":  true,
	"Te":                true,
	"Trailer":           true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"X-Forwarded-For":   true,
	"X-Forwarded-Proto": true,
	"X-Forwarded-Host":  true,
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vv := range src {
		if skippedRequestHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
