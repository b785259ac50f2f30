package cachekey

import (
	"net/http"
	"net/url"
	"testing"
)

func TestRequestFromKey(t *testing.T) {
	base, _ := url.Parse("http://dev.localhost/")
	keygen := NewCacheKeyer(base)
	r, _ := http.NewRequest("GET", "http://dev.localhost/page?x=1", nil)
	key := keygen.GetKey(r)
	req, err := keygen.GetRequestFromKey(key)
	if err != nil {
		t.Fatalf("%s: %s", key, err)
	}
	if u := req.URL.String(); u != "http://dev.localhost/page?x=1" {
		t.Fatalf("Created request url for key %s is %s", key, u)
	}
	if req.Method != "GET" {
		t.Fatalf("Method is %s", req.Method)
	}
}

func TestRelativeAndAbsoluteShareKey(t *testing.T) {
	base, _ := url.Parse("https://app.example/")
	keygen := NewCacheKeyer(base)
	rel, _ := url.Parse("./css/styles.css")
	abs, _ := url.Parse("https://APP.example/css/styles.css#top")
	if keygen.KeyFor("GET", rel) != keygen.KeyFor("GET", abs) {
		t.Fatalf("%s != %s", keygen.KeyFor("GET", rel), keygen.KeyFor("GET", abs))
	}
}

func TestRootPathNormalized(t *testing.T) {
	keygen := NewCacheKeyer(nil)
	a, _ := url.Parse("https://app.example")
	b, _ := url.Parse("https://app.example/")
	if keygen.KeyFor("GET", a) != keygen.KeyFor("GET", b) {
		t.Fatal("Empty path and root path differ")
	}
}

func TestResolveNeedsBase(t *testing.T) {
	keygen := NewCacheKeyer(nil)
	if _, err := keygen.Resolve("/a.css"); err == nil {
		t.Fatal("Expected error for relative reference without base")
	}
}

func TestMalformedKey(t *testing.T) {
	if _, err := NewCacheKeyer(nil).GetRequestFromKey("nothing"); err == nil {
		t.Fatal("Expected error")
	}
}
