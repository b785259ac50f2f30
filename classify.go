package offlinecache

import (
	"fmt"
	"net/http"
	"path"
	"strings"
)

// RuleKind tags what a classification rule inspects.
type RuleKind int

const (
	// RuleExtension matches the extension of the URL path.
	RuleExtension RuleKind = iota
	// RuleDestination matches the request destination (see Destination).
	RuleDestination
	// RulePathContains matches a substring of the URL path.
	RulePathContains
	// RuleHost matches the request hostname.
	RuleHost
)

func (k RuleKind) String() string {
	switch k {
	case RuleExtension:
		return "extension"
	case RuleDestination:
		return "destination"
	case RulePathContains:
		return "path-contains"
	case RuleHost:
		return "host"
	}
	return fmt.Sprintf("RuleKind(%d)", int(k))
}

// Rule is a single classification predicate.
// Values are compared case-insensitively.
type Rule struct {
	Kind   RuleKind
	Values []string
	Class  Class
}

func (r Rule) Matches(req *http.Request) bool {
	switch r.Kind {
	case RuleExtension:
		return containsFold(r.Values, path.Ext(req.URL.Path))
	case RuleDestination:
		return containsFold(r.Values, Destination(req))
	case RulePathContains:
		p := strings.ToLower(req.URL.Path)
		for _, v := range r.Values {
			if v != "" && strings.Contains(p, strings.ToLower(v)) {
				return true
			}
		}
		return false
	case RuleHost:
		return containsFold(r.Values, req.URL.Hostname())
	}
	return false
}

func (r Rule) String() string {
	return fmt.Sprintf("%s%v->%s", r.Kind, r.Values, r.Class)
}

func containsFold(values []string, s string) bool {
	if s == "" {
		return false
	}
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// ClassifierConfig lists the values of the default rule set.
type ClassifierConfig struct {
	StaticExtensions []string `yaml:"staticExtensions"`
	ManifestFilename string   `yaml:"manifestFilename"`
	FontHosts        []string `yaml:"fontHosts"`
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		StaticExtensions: []string{
			".css", ".js", ".mjs",
			".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico",
			".woff", ".woff2", ".ttf", ".otf", ".eot",
		},
		ManifestFilename: "manifest.json",
		FontHosts:        []string{"fonts.googleapis.com", "fonts.gstatic.com"},
	}
}

// Classifier evaluates its rules top to bottom; the first match wins.
// Requests no rule matches are dynamic.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds the rule list from the config, filling empty fields with defaults.
func NewClassifier(cfg ClassifierConfig) Classifier {
	def := DefaultClassifierConfig()
	if len(cfg.StaticExtensions) == 0 {
		cfg.StaticExtensions = def.StaticExtensions
	}
	if cfg.ManifestFilename == "" {
		cfg.ManifestFilename = def.ManifestFilename
	}
	if len(cfg.FontHosts) == 0 {
		cfg.FontHosts = def.FontHosts
	}
	return Classifier{rules: []Rule{
		{Kind: RuleExtension, Values: cfg.StaticExtensions, Class: ClassStatic},
		{Kind: RuleDestination, Values: []string{"document"}, Class: ClassStatic},
		{Kind: RulePathContains, Values: []string{cfg.ManifestFilename}, Class: ClassStatic},
		{Kind: RuleHost, Values: cfg.FontHosts, Class: ClassStatic},
	}}
}

// NewClassifierWithRules uses the given rules verbatim.
func NewClassifierWithRules(rules ...Rule) Classifier {
	return Classifier{rules: rules}
}

// Rules returns a copy of the rule list.
func (c Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the class of the request and the index of the matching rule (-1 if none).
func (c Classifier) Classify(req *http.Request) (Class, int) {
	for i, rule := range c.rules {
		if rule.Matches(req) {
			return rule.Class, i
		}
	}
	return ClassDynamic, -1
}

// Destination returns the request destination as a browser reports it,
// e.g. "document" for top-level navigations, or "" when unknown.
func Destination(req *http.Request) string {
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return strings.ToLower(dest)
	}
	if strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return "document"
	}
	return ""
}

// IsDocument reports whether the request is a top-level document request.
func IsDocument(req *http.Request) bool {
	return Destination(req) == "document"
}

// Intercepts reports whether the worker handles the request at all.
// Only GET requests over http or https are intercepted; everything else,
// including browser extension schemes, passes through untouched.
func Intercepts(req *http.Request) bool {
	if req.URL == nil {
		return false
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	return req.Method == "" || req.Method == http.MethodGet
}
