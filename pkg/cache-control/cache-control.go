package cachecontrol

import (
	"net/http"
	"strings"
)

// CacheControl holds the parsed directives of Cache-Control header fields.
// Directive names are lower case; arguments have their quotes removed.
type CacheControl struct {
	directives map[string]string
}

func (c CacheControl) Get(directive string) (string, bool) {
	val, ok := c.directives[strings.ToLower(directive)]
	return val, ok
}

func (c CacheControl) HasDirective(directive string) bool {
	_, ok := c.Get(directive)
	return ok
}

// Parse takes Cache-Control headers as a slice of strings.
// When a directive is repeated, the last one wins.
func Parse(headers []string) CacheControl {
	m := make(map[string]string)
	for _, header := range headers {
		for _, directive := range strings.Split(header, ",") {
			directive = strings.TrimSpace(directive)
			if directive == "" {
				continue
			}
			name, arg, _ := strings.Cut(directive, "=")
			m[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(arg), "\"")
		}
	}
	return CacheControl{m}
}

// FromHeader parses the Cache-Control fields of h.
func FromHeader(h http.Header) CacheControl {
	return Parse(h.Values("Cache-Control"))
}

// MayShare reports whether a response to req may be kept in a cache that
// answers other clients. Responses marked no-store or private are never shared.
// Responses to requests carrying Authorization are shared only when the
// response explicitly allows it.
func MayShare(req *http.Request, res *http.Response) bool {
	cc := FromHeader(res.Header)
	if cc.HasDirective("no-store") || cc.HasDirective("private") {
		return false
	}
	if req.Header.Get("Authorization") != "" {
		return cc.HasDirective("public") || cc.HasDirective("s-maxage")
	}
	return true
}
