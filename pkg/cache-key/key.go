package cachekey

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const methodSeparator = ":"

// CacheKeyer builds request identities.
// An identity is the request method and the absolute request URL without its fragment.
// Relative URLs are resolved against Base, the scope the worker controls.
type CacheKeyer struct {
	Base *url.URL
}

func NewCacheKeyer(base *url.URL) CacheKeyer {
	return CacheKeyer{Base: base}
}

// Resolve returns the absolute URL for a possibly relative reference, e.g. a manifest entry.
func (c CacheKeyer) Resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if c.Base != nil {
		u = c.Base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("cannot resolve %q without a base URL", ref)
	}
	return u, nil
}

// GetKey returns the identity for the request.
func (c CacheKeyer) GetKey(r *http.Request) string {
	return c.KeyFor(r.Method, r.URL)
}

// KeyFor returns the identity for the method and URL.
func (c CacheKeyer) KeyFor(method string, u *url.URL) string {
	if method == "" {
		method = http.MethodGet
	}
	if c.Base != nil && !u.IsAbs() {
		u = c.Base.ResolveReference(u)
	}
	normalized := *u
	normalized.Fragment = ""
	normalized.RawFragment = ""
	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)
	if normalized.Path == "" {
		normalized.Path = "/"
	}
	return method + methodSeparator + normalized.String()
}

// GetRequestFromKey generates a request equal, caching-wise, to the one that resulted in the key.
func (c CacheKeyer) GetRequestFromKey(key string) (*http.Request, error) {
	method, rawURL, found := strings.Cut(key, methodSeparator)
	if !found || method == "" || rawURL == "" {
		return nil, fmt.Errorf("%w: %s", ErrorMalformedKey, key)
	}
	return http.NewRequest(method, rawURL, nil)
}
