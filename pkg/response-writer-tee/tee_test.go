package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSaverRecordsResponse(t *testing.T) {
	saver := NewResponseSaver(nil)
	saver.Header().Set("Content-Type", "text/css")
	saver.WriteHeader(http.StatusCreated)
	saver.Write([]byte("body{}"))

	req := httptest.NewRequest("GET", "/a.css", nil)
	res := saver.Response(req)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("Status is %d", res.StatusCode)
	}
	if res.Header.Get("Content-Type") != "text/css" {
		t.Fatalf("Header is %v", res.Header)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != "body{}" {
		t.Fatalf("Body is %q", body)
	}
	if res.Request != req {
		t.Fatal("Request not attached")
	}
}

func TestSaverTeesToWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	saver := NewResponseSaver(rr)
	saver.Header().Set("X-Test", "1")
	saver.Write([]byte("hello"))

	if rr.Code != http.StatusOK || rr.Body.String() != "hello" || rr.Header().Get("X-Test") != "1" {
		t.Fatalf("Recorder got %d %q %v", rr.Code, rr.Body.String(), rr.Header())
	}
	if string(saver.Body()) != "hello" {
		t.Fatalf("Saved body is %q", saver.Body())
	}
}

func TestSaverDefaultsToOK(t *testing.T) {
	if code := NewResponseSaver(nil).StatusCode(); code != http.StatusOK {
		t.Fatalf("Status is %d", code)
	}
}
